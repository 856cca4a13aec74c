package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"bookshelf/internal/app"
)

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	page, err := s.app.ListCollections(r.Context(), identity(r), pageParam(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var in app.CollectionInput
	if !decodeJSON(w, r, &in) {
		return
	}
	c, err := s.app.CreateCollection(r.Context(), identity(r), in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"collection": c,
		"flash":      successFlash("Подборка \"" + c.Name + "\" успешно создана!"),
	})
}

func (s *Server) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	detail, err := s.app.GetCollection(r.Context(), identity(r), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	if err := s.app.DeleteCollection(r.Context(), identity(r), chi.URLParam(r, "id")); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addBookRequest struct {
	BookID string `json:"bookId"`
}

func (s *Server) handleAddCollectionBook(w http.ResponseWriter, r *http.Request) {
	var req addBookRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.app.AddBook(r.Context(), identity(r), chi.URLParam(r, "id"), req.BookID); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "added",
		"flash":  successFlash("Книга добавлена в подборку!"),
	})
}

func (s *Server) handleRemoveCollectionBook(w http.ResponseWriter, r *http.Request) {
	if err := s.app.RemoveBook(r.Context(), identity(r), chi.URLParam(r, "id"), chi.URLParam(r, "bookID")); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
