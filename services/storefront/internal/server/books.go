package server

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"bookstore/internal/util"
	"bookstore/pkg/domain"
	"bookstore/pkg/store"
	"bookstore/services/storefront/internal/app"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	page := positiveInt(r.URL.Query().Get("page"), 1)
	size := positiveInt(r.URL.Query().Get("pageSize"), defaultPageSize)
	if size > maxPageSize {
		size = maxPageSize
	}
	books, total, err := s.app.ListBooks(r.Context(), store.BookQuery{
		Title:  strings.TrimSpace(r.URL.Query().Get("q")),
		Limit:  size,
		Offset: (page - 1) * size,
	})
	if err != nil {
		writeAppError(w, r, err, "not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":    books,
		"total":    total,
		"page":     page,
		"pageSize": size,
	})
}

// /books/search, /books/lookup, /books/import, /books/upload,
// /books/{id} or /books/{id}/download
func (s *Server) handleBookPath(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/books/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 1 {
		switch id {
		case "search":
			s.handleSearch(w, r)
			return
		case "lookup":
			s.handleLookup(w, r)
			return
		case "import":
			s.withUser(s.handleImport).ServeHTTP(w, r)
			return
		case "upload":
			s.withUser(s.handleUpload).ServeHTTP(w, r)
			return
		}
	}
	if len(parts) == 2 {
		if parts[1] == "download" {
			s.handleDownload(w, r, id)
			return
		}
		notFound(w, "not found")
		return
	}

	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	book, err := s.app.GetBook(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err, "book not found")
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q, err := app.ValidateQuery(r.URL.Query().Get("q"))
	if err != nil {
		writeAppError(w, r, err, "not found")
		return
	}
	if !s.allowRate(w, r, s.searchLimiter, "search", "too many search requests") {
		return
	}
	dbOnly := strings.EqualFold(r.URL.Query().Get("scope"), "db")
	res, err := s.app.SearchBooks(r.Context(), q, dbOnly)
	if err != nil {
		if errors.Is(err, domain.ErrServiceUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "search service temporarily unavailable")
			return
		}
		writeAppError(w, r, err, "not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	raw, err := s.app.LookupVolume(r.Context(), r.URL.Query().Get("volumeId"), r.URL.Query().Get("isbn"))
	if err != nil {
		writeAppError(w, r, err, "volume not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

type importRequest struct {
	VolumeID string `json:"volumeId"`
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req importRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, r, err, "not found")
		return
	}
	book, created, err := s.app.ImportVolume(r.Context(), req.VolumeID)
	if err != nil {
		writeAppError(w, r, err, "volume not found")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, book)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if user.Role != domain.RoleAdmin {
		s.audit(r, "book_upload", "denied", "user_id", user.ID)
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()

	priceCents, err := optionalInt64(r.FormValue("priceCents"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid priceCents")
		return
	}
	in := app.UploadInput{
		Title:       r.FormValue("title"),
		Subtitle:    r.FormValue("subtitle"),
		Author:      r.FormValue("author"),
		Description: r.FormValue("description"),
		PublishedAt: r.FormValue("publishedAt"),
		PriceCents:  priceCents,
		Currency:    r.FormValue("currency"),
		File:        uploadFrom(header, file),
	}
	if cover, coverHeader, err := r.FormFile("cover"); err == nil {
		defer cover.Close()
		c := uploadFrom(coverHeader, cover)
		in.Cover = &c
	} else if !errors.Is(err, http.ErrMissingFile) {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}

	book, err := s.app.UploadBook(r.Context(), user, in)
	if err != nil {
		writeAppError(w, r, err, "not found")
		return
	}
	s.audit(r, "book_upload", "success", "user_id", user.ID, "book_id", book.ID)
	writeJSON(w, http.StatusCreated, book)
}

func uploadFrom(header *multipart.FileHeader, f multipart.File) app.Upload {
	return app.Upload{Filename: header.Filename, Size: header.Size, Body: f}
}

// handleDownload streams a purchased book or answers with a fallback marker.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w)
		return
	}
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	inline := isTruthy(r.URL.Query().Get("inline"))
	dl, err := s.app.OpenDownload(r.Context(), app.DownloadRequest{
		UserID: user.ID,
		BookID: id,
		Inline: inline,
		Head:   r.Method == http.MethodHead,
		Range:  r.Header.Get("Range"),
	})
	if err != nil {
		if errors.Is(err, domain.ErrForbidden) {
			s.audit(r, "book_download", "denied", "user_id", user.ID, "book_id", id)
		}
		writeAppError(w, r, err, "book not found")
		return
	}
	if dl.Fallback != nil {
		writeJSON(w, http.StatusOK, dl.Fallback)
		return
	}
	if dl.Body != nil {
		defer dl.Body.Close()
	}
	for name, values := range dl.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	if inline {
		util.AllowInlineDocument(w)
	}
	w.WriteHeader(dl.Status)
	if dl.Body == nil {
		return
	}
	if n, err := io.Copy(w, dl.Body); err != nil {
		util.LoggerFromContext(r.Context()).Warn("download stream interrupted", "book_id", id, "bytes", n, "err", err)
	}
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func positiveInt(raw string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return def
	}
	return n
}

func optionalInt64(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
