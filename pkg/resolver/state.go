package resolver

import (
	"fmt"
	"path/filepath"
	"strings"

	"bookstore/pkg/catalog"
	"bookstore/pkg/domain"
)

// State is a step of a single book's file resolution.
type State int

const (
	StateUnresolved State = iota
	StateLocalProbe
	StateExternalProbe
	StateExternalDownload
	StatePreviewFallback
	StateCached
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateUnresolved:
		return "unresolved"
	case StateLocalProbe:
		return "local_probe"
	case StateExternalProbe:
		return "external_probe"
	case StateExternalDownload:
		return "external_download"
	case StatePreviewFallback:
		return "preview_fallback"
	case StateCached:
		return "cached"
	case StateExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further step runs after s.
func (s State) Terminal() bool {
	return s == StateCached || s == StateExhausted
}

// Event is what a step observed.
type Event int

const (
	EventNeedsResolution Event = iota
	EventAlreadyResolved
	EventLocalFound
	EventLocalMissing
	EventVolumeUnavailable
	EventDownloadOffered
	EventDownloadMissing
	EventFetchFailed
	EventPreviewMissing
	EventStored
)

// Next is the transition table. It performs no I/O.
func Next(s State, e Event) (State, error) {
	switch s {
	case StateUnresolved:
		switch e {
		case EventAlreadyResolved:
			return StateCached, nil
		case EventNeedsResolution:
			return StateLocalProbe, nil
		}
	case StateLocalProbe:
		switch e {
		case EventStored:
			return StateCached, nil
		case EventLocalMissing:
			return StateExternalProbe, nil
		}
	case StateExternalProbe:
		switch e {
		case EventVolumeUnavailable:
			return StateExhausted, nil
		case EventDownloadOffered:
			return StateExternalDownload, nil
		case EventDownloadMissing:
			return StatePreviewFallback, nil
		}
	case StateExternalDownload:
		switch e {
		case EventStored:
			return StateCached, nil
		case EventFetchFailed:
			return StateExhausted, nil
		}
	case StatePreviewFallback:
		switch e {
		case EventStored:
			return StateCached, nil
		case EventPreviewMissing:
			return StateExhausted, nil
		}
	}
	return s, fmt.Errorf("resolver: no transition from %s on event %d", s, e)
}

// LocalCandidates lists the files probed in dir, in priority order: book id,
// external volume id, then the title slug, each as .pdf then .epub.
func LocalCandidates(dir string, book domain.Book) []string {
	if strings.TrimSpace(dir) == "" {
		return nil
	}
	names := []string{book.ID, book.ExternalVolumeID, domain.Slugify(book.Title)}
	out := make([]string, 0, len(names)*2)
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || strings.ContainsAny(name, `/\`) {
			continue
		}
		out = append(out, filepath.Join(dir, name+".pdf"), filepath.Join(dir, name+".epub"))
	}
	return out
}

// DownloadPlan is a direct download offered by the catalog.
type DownloadPlan struct {
	URL string
	Ext string
}

// PickDownload prefers EPUB over PDF and only accepts formats flagged as
// available with a download link.
func PickDownload(access catalog.AccessInfo) (DownloadPlan, bool) {
	if access.EPUB.Downloadable() {
		return DownloadPlan{URL: strings.TrimSpace(access.EPUB.DownloadLink), Ext: ".epub"}, true
	}
	if access.PDF.Downloadable() {
		return DownloadPlan{URL: strings.TrimSpace(access.PDF.DownloadLink), Ext: ".pdf"}, true
	}
	return DownloadPlan{}, false
}

// PreviewLink returns the web reader link, falling back to the preview link.
func PreviewLink(v catalog.Volume) string {
	if link := strings.TrimSpace(v.AccessInfo.WebReaderLink); link != "" {
		return link
	}
	return strings.TrimSpace(v.VolumeInfo.PreviewLink)
}
