// internal/inventory/handler.go
package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Error codes carried in error response bodies.
const (
	CodeAlreadyExists       = "already_exists"
	CodeNotFound            = "not_found"
	CodeNoCopiesRemaining   = "no_copies_remaining"
	CodeInvalidBook         = "invalid_book"
	CodeConcurrencyConflict = "concurrency_conflict"
	CodeStoreUnavailable    = "store_unavailable"
	CodeInternal            = "internal"
)

// ErrorResponse is the body written for every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// SeedResponse reports how many books a seed request added.
type SeedResponse struct {
	Added int `json:"added"`
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func NewHandler(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes returns the book API, meant to be mounted under /api/book.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleAddBook)
	r.Post("/seed", h.handleSeed)
	r.Delete("/{isbn}", h.handleRemoveBook)
	r.Get("/findByISBN/{isbn}", h.handleFindByISBN)
	r.Get("/findByAuthor/{author}", h.handleFindByAuthor)
	r.Post("/borrow/{isbn}", h.handleBorrowBook)
	r.Post("/return/{isbn}", h.handleReturnBook)
	return r
}

func (h *Handler) handleAddBook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ISBN            string `json:"isbn"`
		Title           string `json:"title"`
		Author          string `json:"author"`
		PublicationYear int    `json:"publicationYear"`
		CopiesAvailable int    `json:"copiesAvailable"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeInvalidBook})
		return
	}

	book, err := h.service.AddBook(r.Context(), Book{
		ISBN:            req.ISBN,
		Title:           req.Title,
		Author:          req.Author,
		PublicationYear: req.PublicationYear,
		CopiesAvailable: req.CopiesAvailable,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, book)
}

func (h *Handler) handleRemoveBook(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RemoveBook(r.Context(), pathParam(r, "isbn")); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleFindByISBN(w http.ResponseWriter, r *http.Request) {
	isbn := pathParam(r, "isbn")
	book, found, err := h.service.FindByISBN(r.Context(), isbn)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !found {
		h.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "cannot find book " + isbn, Code: CodeNotFound})
		return
	}

	h.writeJSON(w, http.StatusOK, book)
}

func (h *Handler) handleFindByAuthor(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.FindByAuthor(r.Context(), pathParam(r, "author"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if len(books) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.writeJSON(w, http.StatusOK, books)
}

func (h *Handler) handleBorrowBook(w http.ResponseWriter, r *http.Request) {
	isbn := pathParam(r, "isbn")
	book, found, err := h.service.BorrowBook(r.Context(), isbn)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !found {
		h.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "cannot find book " + isbn, Code: CodeNotFound})
		return
	}

	h.writeJSON(w, http.StatusOK, book)
}

func (h *Handler) handleReturnBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.service.ReturnBook(r.Context(), pathParam(r, "isbn"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, book)
}

func (h *Handler) handleSeed(w http.ResponseWriter, r *http.Request) {
	books, err := DefaultSeed()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	added, err := Seed(r.Context(), h.service, books)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, SeedResponse{Added: added})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, CodeInternal

	switch {
	case errors.Is(err, ErrAlreadyExists):
		status, code = http.StatusBadRequest, CodeAlreadyExists
	case errors.Is(err, ErrInvalidBook):
		status, code = http.StatusBadRequest, CodeInvalidBook
	case errors.Is(err, ErrNoCopiesRemaining):
		status, code = http.StatusBadRequest, CodeNoCopiesRemaining
	case errors.Is(err, ErrNotFound):
		status, code = http.StatusNotFound, CodeNotFound
	case errors.Is(err, ErrConcurrencyConflict):
		status, code = http.StatusConflict, CodeConcurrencyConflict
	case errors.Is(err, ErrStoreUnavailable):
		status, code = http.StatusServiceUnavailable, CodeStoreUnavailable
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
	}

	h.writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to encode response", "error", err)
	}
}

// pathParam returns the decoded value of a chi URL parameter. chi routes on
// RawPath when it is set, so only then is the segment still escaped.
func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return raw
	}
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}
