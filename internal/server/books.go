package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"bookshelf/internal/app"
	"bookshelf/pkg/policy"
	"bookshelf/pkg/store"
)

// parseBookFilter reads the catalog filter from the query string. Repeated
// genre_ids and year keys combine with OR.
func parseBookFilter(q url.Values) (store.BookFilter, error) {
	f := store.BookFilter{
		Name:     q.Get("name"),
		Author:   q.Get("author"),
		GenreIDs: q["genre_ids"],
		Years:    q["year"],
	}
	fields := map[string]string{}
	parseInt := func(key string) *int {
		raw := strings.TrimSpace(q.Get(key))
		if raw == "" {
			return nil
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			fields[key] = "must be a number"
			return nil
		}
		return &v
	}
	f.VolumeFrom = parseInt("volume_from")
	f.VolumeTo = parseInt("volume_to")
	if len(fields) > 0 {
		return store.BookFilter{}, &app.ValidationError{Fields: fields}
	}
	return f, nil
}

func pageParam(r *http.Request) int {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	filter, err := parseBookFilter(r.URL.Query())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	listing, err := s.app.ListBooks(r.Context(), filter, pageParam(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (s *Server) handleNewBookForm(w http.ResponseWriter, r *http.Request) {
	form, err := s.app.NewBookForm(r.Context(), identity(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, form)
}

func (s *Server) handleEditBookForm(w http.ResponseWriter, r *http.Request) {
	form, err := s.app.EditBookForm(r.Context(), identity(r), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, form)
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	detail, err := s.app.GetBook(r.Context(), identity(r), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// handleCreateBook accepts multipart form data with the book fields and an
// "image" file part. The permission check runs before the body is read.
func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	who := identity(r)
	if !s.app.Can(who, policy.CreateBook, nil) {
		writeAppError(w, r, app.ErrForbidden)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "image too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	volume, _ := strconv.Atoi(strings.TrimSpace(r.FormValue("volume")))
	in := app.BookInput{
		Name:      r.FormValue("name"),
		Author:    r.FormValue("author"),
		Publisher: r.FormValue("publisher"),
		ShortDesc: r.FormValue("shortDesc"),
		Volume:    volume,
		Year:      r.FormValue("year"),
		GenreIDs:  r.MultipartForm.Value["genreIds"],
	}

	var upload *app.ImageUpload
	file, header, err := r.FormFile("image")
	switch {
	case err == nil:
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid form data")
			return
		}
		upload = &app.ImageUpload{
			Data:     data,
			FileName: header.Filename,
			MimeType: header.Header.Get("Content-Type"),
		}
	case errors.Is(err, http.ErrMissingFile):
	default:
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}

	book, err := s.app.CreateBook(r.Context(), who, in, upload)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"book":  book,
		"flash": successFlash(fmt.Sprintf("Книга \"%s\" была успешно добавлена!", book.Name)),
	})
}

func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request) {
	var in app.BookInput
	if !decodeJSON(w, r, &in) {
		return
	}
	book, err := s.app.UpdateBook(r.Context(), identity(r), chi.URLParam(r, "id"), in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"book":  book,
		"flash": successFlash(fmt.Sprintf("Книга %s была успешно изменена!", book.Name)),
	})
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	if err := s.app.DeleteBook(r.Context(), identity(r), chi.URLParam(r, "id")); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "deleted",
		"redirect": "/api/books",
		"flash":    successFlash("Книга успешно удалена"),
	})
}
