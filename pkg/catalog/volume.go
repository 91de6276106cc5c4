package catalog

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"

	"bookstore/pkg/domain"
)

const (
	maxTitleRunes       = 200
	maxSubtitleRunes    = 200
	maxDescriptionRunes = 500
	maxAuthors          = 5
	maxCategories       = 3
)

type volumeList struct {
	TotalItems int      `json:"totalItems"`
	Items      []Volume `json:"items"`
}

// Volume is the subset of a Google Books volume the storefront reads.
type Volume struct {
	ID         string     `json:"id"`
	VolumeInfo VolumeInfo `json:"volumeInfo"`
	AccessInfo AccessInfo `json:"accessInfo"`
	// Raw holds the undecoded upstream document for passthrough lookups.
	Raw json.RawMessage `json:"-"`
}

type VolumeInfo struct {
	Title               string               `json:"title"`
	Subtitle            string               `json:"subtitle"`
	Description         string               `json:"description"`
	Authors             []string             `json:"authors"`
	Categories          []string             `json:"categories"`
	PublishedDate       string               `json:"publishedDate"`
	IndustryIdentifiers []IndustryIdentifier `json:"industryIdentifiers"`
	ImageLinks          ImageLinks           `json:"imageLinks"`
	PreviewLink         string               `json:"previewLink"`
}

type IndustryIdentifier struct {
	Type       string `json:"type"`
	Identifier string `json:"identifier"`
}

type ImageLinks struct {
	SmallThumbnail string `json:"smallThumbnail"`
	Thumbnail      string `json:"thumbnail"`
}

type AccessInfo struct {
	WebReaderLink string       `json:"webReaderLink"`
	EPUB          FormatAccess `json:"epub"`
	PDF           FormatAccess `json:"pdf"`
}

// FormatAccess describes whether a format can be fetched directly.
type FormatAccess struct {
	IsAvailable  bool   `json:"isAvailable"`
	DownloadLink string `json:"downloadLink"`
}

// Downloadable reports whether the format offers a direct download.
func (f FormatAccess) Downloadable() bool {
	return f.IsAvailable && strings.TrimSpace(f.DownloadLink) != ""
}

// Normalize converts a volume into the storefront's external book shape.
func Normalize(v Volume, priceCents int64) domain.ExternalBook {
	info := v.VolumeInfo
	title := truncateRunes(strings.TrimSpace(info.Title), maxTitleRunes)
	if title == "" {
		title = "Unknown Title"
	}
	book := domain.ExternalBook{
		ExternalVolumeID: v.ID,
		Title:            title,
		Subtitle:         truncateRunes(strings.TrimSpace(info.Subtitle), maxSubtitleRunes),
		Description:      truncateRunes(StripHTML(info.Description), maxDescriptionRunes),
		Authors:          capList(info.Authors, maxAuthors),
		Categories:       capList(info.Categories, maxCategories),
		CoverURL:         secureURL(info.ImageLinks.Thumbnail),
		PriceCents:       priceCents,
		Currency:         "USD",
		PublishedDate:    info.PublishedDate,
	}
	for _, id := range info.IndustryIdentifiers {
		switch id.Type {
		case "ISBN_10":
			if book.ISBN10 == "" {
				book.ISBN10 = id.Identifier
			}
		case "ISBN_13":
			if book.ISBN13 == "" {
				book.ISBN13 = id.Identifier
			}
		}
	}
	return book
}

// StripHTML drops markup from catalog descriptions and collapses whitespace.
func StripHTML(raw string) string {
	if !strings.ContainsAny(raw, "<&") {
		return strings.Join(strings.Fields(raw), " ")
	}
	var b strings.Builder
	tokenizer := html.NewTokenizer(strings.NewReader(raw))
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.TextToken:
			b.Write(tokenizer.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			// Block-level tags separate words.
			b.WriteByte(' ')
		}
	}
}

func secureURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if rest, ok := strings.CutPrefix(raw, "http://"); ok {
		return "https://" + rest
	}
	return raw
}

func capList(in []string, limit int) []string {
	out := make([]string, 0, min(len(in), limit))
	for _, s := range in {
		if len(out) == limit {
			break
		}
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}

// ToBook maps a normalized volume onto a new, unresolved book.
func ToBook(ext domain.ExternalBook, inventory int) domain.Book {
	book := domain.Book{
		Title:            ext.Title,
		Subtitle:         ext.Subtitle,
		Description:      ext.Description,
		PriceCents:       ext.PriceCents,
		Currency:         ext.Currency,
		Inventory:        inventory,
		CoverURL:         ext.CoverURL,
		ExternalVolumeID: ext.ExternalVolumeID,
		ISBN10:           ext.ISBN10,
		ISBN13:           ext.ISBN13,
		PublishedAt:      ParsePublishedDate(ext.PublishedDate),
	}
	for _, name := range ext.Authors {
		book.Authors = append(book.Authors, domain.Author{Name: name})
	}
	for _, name := range ext.Categories {
		book.Categories = append(book.Categories, domain.Category{Name: name})
	}
	return book
}

// ParsePublishedDate accepts the year, year-month and full date forms.
func ParsePublishedDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{"2006-01-02", "2006-01", "2006"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}
