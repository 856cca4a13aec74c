package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"bookshelf/internal/app"
	"bookshelf/pkg/domain"
)

func sortParam(r *http.Request) domain.ReviewSort {
	return domain.ParseReviewSort(r.URL.Query().Get("sort"))
}

func (s *Server) handleBookReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := s.app.ListBookReviews(r.Context(), chi.URLParam(r, "id"), sortParam(r), pageParam(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reviews)
}

func (s *Server) handleSubmitReview(w http.ResponseWriter, r *http.Request) {
	var in app.ReviewInput
	if !decodeJSON(w, r, &in) {
		return
	}
	review, err := s.app.SubmitReview(r.Context(), identity(r), chi.URLParam(r, "id"), in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"review": review,
		"flash":  successFlash("Ваш отзыв был отправлен на рассмотрение!"),
	})
}

func (s *Server) handleMyReviews(w http.ResponseWriter, r *http.Request) {
	page, err := s.app.MyReviews(r.Context(), identity(r), sortParam(r), pageParam(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleModerationQueue(w http.ResponseWriter, r *http.Request) {
	page, err := s.app.ModerationQueue(r.Context(), identity(r), pageParam(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetReview(w http.ResponseWriter, r *http.Request) {
	review, err := s.app.ReviewForModeration(r.Context(), identity(r), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, review)
}

type decisionRequest struct {
	Decision string `json:"decision"`
}

func (s *Server) handleDecideReview(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	review, err := s.app.DecideReview(r.Context(), identity(r), chi.URLParam(r, "id"), req.Decision)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	msg := "Рецензия отклонена"
	if review.Status == domain.ReviewApproved {
		msg = "Рецензия одобрена"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"review":   review,
		"redirect": "/api/reviews/moderation",
		"flash":    successFlash(msg),
	})
}
