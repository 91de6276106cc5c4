package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"bookstore/internal/util"
	"bookstore/pkg/domain"
)

// Fallback kinds returned instead of bytes.
const (
	FallbackExternal = "EXTERNAL"
	FallbackPreview  = "PREVIEW"
)

var passthroughHeaders = []string{"Content-Length", "Content-Range", "Accept-Ranges", "ETag", "Last-Modified"}

// DownloadRequest is one authorized read of a purchased book.
type DownloadRequest struct {
	UserID string
	BookID string
	// Inline selects "inline" disposition for in-browser readers.
	Inline bool
	// Head fetches headers only.
	Head  bool
	Range string
}

// Fallback tells the client to read the book elsewhere.
type Fallback struct {
	Fallback   string `json:"fallback"`
	VolumeID   string `json:"volumeId"`
	PreviewURL string `json:"previewUrl,omitempty"`
}

// Download is either a fallback or an upstream stream. The caller must close
// Body when it is non-nil.
type Download struct {
	Fallback *Fallback
	Status   int
	Header   http.Header
	Body     io.ReadCloser
}

// OpenDownload checks ownership, resolves the book's file and opens the
// upstream stream with the caller's range forwarded.
func (a *App) OpenDownload(ctx context.Context, req DownloadRequest) (Download, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return Download{}, domain.ErrUnauthorized
	}
	book, ok, err := a.store.GetBook(ctx, req.BookID)
	if err != nil {
		return Download{}, fmt.Errorf("load book: %w", err)
	}
	if !ok {
		return Download{}, domain.ErrNotFound
	}
	owned, err := a.store.HasPaidOrderItem(ctx, req.UserID, book.ID)
	if err != nil {
		return Download{}, fmt.Errorf("check purchase: %w", err)
	}
	if !owned {
		return Download{}, domain.ErrForbidden
	}

	outcome, err := a.resolver.Resolve(ctx, book.ID)
	if err != nil {
		if ctx.Err() != nil {
			return Download{}, ctx.Err()
		}
		return Download{}, fmt.Errorf("%w: resolve: %v", domain.ErrDownloadFailed, err)
	}
	if outcome.Exhausted() {
		return Download{Fallback: &Fallback{Fallback: FallbackExternal, VolumeID: book.ExternalVolumeID}}, nil
	}
	if outcome.Ref.Kind == domain.FilePreview {
		return Download{Fallback: &Fallback{
			Fallback:   FallbackPreview,
			VolumeID:   book.ExternalVolumeID,
			PreviewURL: outcome.Ref.URL,
		}}, nil
	}
	return a.openUpstream(ctx, book, outcome.Ref.URL, req)
}

func (a *App) openUpstream(ctx context.Context, book domain.Book, fileURL string, req DownloadRequest) (Download, error) {
	method := http.MethodGet
	if req.Head {
		method = http.MethodHead
	}
	upReq, err := http.NewRequestWithContext(ctx, method, fileURL, nil)
	if err != nil {
		return Download{}, fmt.Errorf("%w: %v", domain.ErrDownloadFailed, err)
	}
	if r := strings.TrimSpace(req.Range); r != "" {
		upReq.Header.Set("Range", r)
	}
	resp, err := a.http.Do(upReq)
	if err != nil {
		if ctx.Err() != nil {
			return Download{}, ctx.Err()
		}
		return Download{}, fmt.Errorf("%w: %v", domain.ErrDownloadFailed, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		util.LoggerFromContext(ctx).Warn("book file upstream rejected request", "book_id", book.ID, "status", resp.StatusCode)
		return Download{}, fmt.Errorf("%w: %w", domain.ErrDownloadFailed, &domain.UpstreamError{Service: "book-file", Status: resp.StatusCode})
	}

	header := http.Header{}
	for _, name := range passthroughHeaders {
		if v := resp.Header.Get(name); v != "" {
			header.Set(name, v)
		}
	}
	header.Set("Content-Type", DetectContentType(resp.Header.Get("Content-Type"), fileURL))
	header.Set("Content-Disposition", ContentDisposition(book.Title, fileURL, req.Inline))

	out := Download{Status: resp.StatusCode, Header: header}
	if req.Head {
		resp.Body.Close()
		return out, nil
	}
	out.Body = resp.Body
	return out, nil
}

// DetectContentType keeps a specific upstream type and otherwise infers one
// from the URL suffix.
func DetectContentType(upstream, fileURL string) string {
	ct := strings.TrimSpace(upstream)
	if ct != "" && !strings.HasPrefix(strings.ToLower(ct), "application/octet-stream") {
		return ct
	}
	switch FileExt(fileURL) {
	case ".pdf":
		return "application/pdf"
	case ".epub":
		return epubMimetype
	}
	return "application/octet-stream"
}

// FileExt returns ".pdf", ".epub" or "" based on the URL path.
func FileExt(fileURL string) string {
	p := fileURL
	if u, err := url.Parse(fileURL); err == nil {
		p = u.Path
	}
	switch ext := strings.ToLower(path.Ext(p)); ext {
	case ".pdf", ".epub":
		return ext
	}
	return ""
}

// SafeFilename replaces every character outside [A-Za-z0-9._-] with "_".
func SafeFilename(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return "book"
	}
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// ContentDisposition builds the attachment or inline header value.
func ContentDisposition(title, fileURL string, inline bool) string {
	kind := "attachment"
	if inline {
		kind = "inline"
	}
	return fmt.Sprintf(`%s; filename="%s%s"`, kind, SafeFilename(title), FileExt(fileURL))
}
