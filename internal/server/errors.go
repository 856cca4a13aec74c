package server

import (
	"errors"
	"net/http"
	"strings"

	"bookshelf/internal/app"
	"bookshelf/internal/util"
)

type flash struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func successFlash(msg string) *flash { return &flash{Kind: "success", Message: msg} }
func warningFlash(msg string) *flash { return &flash{Kind: "warning", Message: msg} }

type errorResponse struct {
	Error     string            `json:"error"`
	Code      string            `json:"code"`
	RequestID string            `json:"requestId,omitempty"`
	Redirect  string            `json:"redirect,omitempty"`
	Flash     *flash            `json:"flash,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeErrorResponse(w, status, errorResponse{Error: msg, Code: errorCode(status, msg)})
}

func writeErrorResponse(w http.ResponseWriter, status int, resp errorResponse) {
	resp.RequestID = strings.TrimSpace(w.Header().Get("X-Request-Id"))
	writeJSON(w, status, resp)
}

const forbiddenFlash = "У вас недостаточно прав для выполнения этого действия."

// notFoundTargets maps missing-record errors to the listing the client should
// return to.
var notFoundTargets = []struct {
	err      error
	code     string
	redirect string
	flash    string
}{
	{app.ErrBookNotFound, "BOOK_NOT_FOUND", "/api/books", "Такой книги не существует"},
	{app.ErrReviewNotFound, "REVIEW_NOT_FOUND", "/api/reviews/moderation", "Такого отзыва не существует"},
	{app.ErrCollectionNotFound, "COLLECTION_NOT_FOUND", "/api/collections", "Такой подборки не существует"},
	{app.ErrImageNotFound, "IMAGE_NOT_FOUND", "", ""},
}

var conflicts = []struct {
	err  error
	code string
}{
	{app.ErrReviewAlreadyDecided, "REVIEW_ALREADY_DECIDED"},
	{app.ErrReviewExists, "REVIEW_EXISTS"},
	{app.ErrCollectionNameTaken, "COLLECTION_NAME_TAKEN"},
	{app.ErrLoginTaken, "USER_LOGIN_TAKEN"},
}

// writeAppError maps use-case errors onto the HTTP error taxonomy. Anything
// unrecognised is logged and reported as a generic 500.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *app.ValidationError
	if errors.As(err, &verr) {
		writeErrorResponse(w, http.StatusBadRequest, errorResponse{
			Error:  "validation failed",
			Code:   "REQUEST_VALIDATION_FAILED",
			Fields: verr.Fields,
		})
		return
	}
	switch {
	case errors.Is(err, app.ErrForbidden):
		writeErrorResponse(w, http.StatusForbidden, errorResponse{
			Error:    "forbidden",
			Code:     "AUTH_FORBIDDEN",
			Redirect: "/api/books",
			Flash:    warningFlash(forbiddenFlash),
		})
		return
	case errors.Is(err, app.ErrInvalidCredentials):
		writeErrorResponse(w, http.StatusUnauthorized, errorResponse{
			Error: err.Error(),
			Code:  "AUTH_INVALID_CREDENTIALS",
			Flash: &flash{Kind: "danger", Message: "Ошибка аутентификации. Проверьте логин и пароль."},
		})
		return
	case errors.Is(err, app.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	for _, nf := range notFoundTargets {
		if errors.Is(err, nf.err) {
			resp := errorResponse{Error: nf.err.Error(), Code: nf.code, Redirect: nf.redirect}
			if nf.flash != "" {
				resp.Flash = warningFlash(nf.flash)
			}
			writeErrorResponse(w, http.StatusNotFound, resp)
			return
		}
	}
	for _, c := range conflicts {
		if errors.Is(err, c.err) {
			writeErrorResponse(w, http.StatusConflict, errorResponse{Error: c.err.Error(), Code: c.code})
			return
		}
	}
	util.LoggerFromContext(r.Context()).Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func errorCode(status int, msg string) string {
	switch strings.ToLower(strings.TrimSpace(msg)) {
	case "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case "too many login attempts":
		return "AUTH_RATE_LIMITED"
	case "invalid json body":
		return "REQUEST_INVALID_JSON"
	case "invalid form data":
		return "BOOK_INVALID_UPLOAD_FORM"
	case "image too large":
		return "BOOK_IMAGE_TOO_LARGE"
	case "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case "not found":
		return "SYSTEM_NOT_FOUND"
	}
	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusForbidden:
		return "AUTH_FORBIDDEN"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusTooManyRequests:
		return "REQUEST_RATE_LIMITED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
