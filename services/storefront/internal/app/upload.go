package app

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"bookstore/internal/util"
	"bookstore/pkg/catalog"
	"bookstore/pkg/domain"
	"bookstore/pkg/storage"
)

const epubMimetype = "application/epub+zip"

// Upload is a file received from an admin form.
type Upload struct {
	Filename string
	Size     int64
	Body     io.ReaderAt
}

// UploadInput describes a manually added book.
type UploadInput struct {
	Title       string
	Subtitle    string
	Author      string
	Description string
	PublishedAt string
	PriceCents  int64
	Currency    string
	File        Upload
	Cover       *Upload
}

// UploadBook validates the document, stores it with an optional cover and
// creates a book whose file reference is already resolved.
func (a *App) UploadBook(ctx context.Context, user domain.User, in UploadInput) (domain.Book, error) {
	if user.ID == "" {
		return domain.Book{}, domain.ErrUnauthorized
	}
	if user.Role != domain.RoleAdmin {
		return domain.Book{}, domain.ErrForbidden
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return domain.Book{}, domain.ValidationError("title is required")
	}
	if in.File.Body == nil || in.File.Size <= 0 {
		return domain.Book{}, domain.ValidationError("file is required")
	}
	if in.PriceCents < 0 {
		return domain.Book{}, domain.ValidationError("price must not be negative")
	}
	ext := strings.ToLower(filepath.Ext(in.File.Filename))
	if err := validateDocument(ext, in.File); err != nil {
		return domain.Book{}, err
	}
	var coverExt string
	if in.Cover != nil {
		coverExt = strings.ToLower(filepath.Ext(in.Cover.Filename))
		switch coverExt {
		case ".jpg", ".jpeg", ".png", ".webp":
		default:
			return domain.Book{}, domain.ValidationError("cover must be jpg, png or webp")
		}
	}

	id := util.NewID()
	fileKey := storage.BookFileKey(id, ext)
	fileURL, err := a.blobs.Upload(ctx, fileKey, io.NewSectionReader(in.File.Body, 0, in.File.Size), in.File.Size, storage.ContentTypeForName(in.File.Filename))
	if err != nil {
		return domain.Book{}, fmt.Errorf("upload book file: %w", err)
	}
	uploaded := []string{fileKey}
	cleanup := func() {
		for _, key := range uploaded {
			if err := a.blobs.Delete(context.WithoutCancel(ctx), key); err != nil {
				util.LoggerFromContext(ctx).Warn("remove orphaned upload failed", "key", key, "err", err)
			}
		}
	}

	book := domain.Book{
		ID:          id,
		Title:       title,
		Subtitle:    strings.TrimSpace(in.Subtitle),
		Description: strings.TrimSpace(in.Description),
		PriceCents:  in.PriceCents,
		Currency:    strings.ToUpper(strings.TrimSpace(in.Currency)),
		Inventory:   defaultInventory,
		File:        domain.DownloadRef(fileURL),
		PublishedAt: catalog.ParsePublishedDate(in.PublishedAt),
	}
	if book.PriceCents == 0 {
		book.PriceCents = a.importPrice
	}
	if book.Currency == "" {
		book.Currency = "USD"
	}
	if author := strings.TrimSpace(in.Author); author != "" {
		book.Authors = []domain.Author{{Name: author}}
	}
	if in.Cover != nil {
		coverKey := storage.CoverKey(id, coverExt)
		coverURL, err := a.blobs.Upload(ctx, coverKey, io.NewSectionReader(in.Cover.Body, 0, in.Cover.Size), in.Cover.Size, storage.ContentTypeForName(in.Cover.Filename))
		if err != nil {
			cleanup()
			return domain.Book{}, fmt.Errorf("upload cover: %w", err)
		}
		uploaded = append(uploaded, coverKey)
		book.CoverURL = coverURL
	}

	created, err := a.store.CreateBook(ctx, book)
	if err != nil {
		cleanup()
		return domain.Book{}, fmt.Errorf("create book: %w", err)
	}
	util.LoggerFromContext(ctx).Info("book uploaded", "book_id", created.ID, "user_id", user.ID, "bytes", in.File.Size)
	return created, nil
}

func validateDocument(ext string, f Upload) error {
	switch ext {
	case ".pdf":
		r, err := pdf.NewReader(f.Body, f.Size)
		if err != nil {
			return domain.ValidationError("invalid pdf: %v", err)
		}
		if r.NumPage() == 0 {
			return domain.ValidationError("pdf has no pages")
		}
		return nil
	case ".epub":
		return validateEPUB(f)
	default:
		return domain.ValidationError("unsupported file type, use pdf or epub")
	}
}

// validateEPUB checks the OCF container marker.
func validateEPUB(f Upload) error {
	zr, err := zip.NewReader(f.Body, f.Size)
	if err != nil {
		return domain.ValidationError("invalid epub: %v", err)
	}
	for _, entry := range zr.File {
		if entry.Name != "mimetype" {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return domain.ValidationError("invalid epub: %v", err)
		}
		defer rc.Close()
		body, err := io.ReadAll(io.LimitReader(rc, 64))
		if err != nil {
			return domain.ValidationError("invalid epub: %v", err)
		}
		if strings.TrimSpace(string(body)) != epubMimetype {
			return domain.ValidationError("invalid epub mimetype")
		}
		return nil
	}
	return domain.ValidationError("invalid epub: missing mimetype")
}
