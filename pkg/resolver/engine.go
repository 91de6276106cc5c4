package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"bookstore/internal/util"
	"bookstore/pkg/catalog"
	"bookstore/pkg/domain"
	"bookstore/pkg/storage"
)

// BookStore is the persistence the engine needs.
type BookStore interface {
	GetBook(ctx context.Context, id string) (domain.Book, bool, error)
	SetBookFileIfEmpty(ctx context.Context, bookID string, ref domain.FileRef) (domain.FileRef, error)
}

// VolumeFetcher loads catalog volumes with access info.
type VolumeFetcher interface {
	FetchVolume(ctx context.Context, volumeID string) (catalog.Volume, error)
}

// Uploader stores a local file and returns its durable URL.
type Uploader interface {
	UploadFile(ctx context.Context, key, localPath string) (string, error)
}

// Config wires the engine.
type Config struct {
	Store   BookStore
	Catalog VolumeFetcher
	Blobs   Uploader
	// LocalDir holds operator-provided files named by id, volume id or title slug.
	LocalDir string
	// ScratchDir receives external downloads before upload.
	ScratchDir string
	HTTPClient *http.Client
	// RunTimeout bounds one shared resolution run. Defaults to five minutes.
	RunTimeout time.Duration
}

const defaultRunTimeout = 5 * time.Minute

// Outcome is the result of a resolution. A zero Ref means exhausted.
type Outcome struct {
	BookID   string
	VolumeID string
	Ref      domain.FileRef
	Final    State
}

// Exhausted reports whether no file or preview could be found.
func (o Outcome) Exhausted() bool { return !o.Ref.IsSet() }

// Engine resolves and caches the readable file of a book.
type Engine struct {
	store      BookStore
	catalog    VolumeFetcher
	blobs      Uploader
	localDir   string
	scratchDir string
	http       *http.Client
	runTimeout time.Duration
	flights    singleflight.Group
}

// New builds an engine. Catalog may be nil to disable external lookups.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("resolver: store required")
	}
	if cfg.Blobs == nil {
		return nil, errors.New("resolver: blob uploader required")
	}
	scratch := strings.TrimSpace(cfg.ScratchDir)
	if scratch == "" {
		scratch = filepath.Join(os.TempDir(), "books_tmp")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	runTimeout := cfg.RunTimeout
	if runTimeout <= 0 {
		runTimeout = defaultRunTimeout
	}
	return &Engine{
		store:      cfg.Store,
		catalog:    cfg.Catalog,
		blobs:      cfg.Blobs,
		localDir:   strings.TrimSpace(cfg.LocalDir),
		scratchDir: scratch,
		http:       httpClient,
		runTimeout: runTimeout,
	}, nil
}

// Resolve returns the book's file reference, resolving and persisting it on
// first use. Concurrent calls for one book in this process share one run.
// The run ignores caller cancellation and is bounded by RunTimeout; each
// caller stops waiting on its own ctx.
func (e *Engine) Resolve(ctx context.Context, bookID string) (Outcome, error) {
	ch := e.flights.DoChan(bookID, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.runTimeout)
		defer cancel()
		return e.resolve(runCtx, bookID)
	})
	select {
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Outcome{}, res.Err
		}
		return res.Val.(Outcome), nil
	}
}

type run struct {
	book   domain.Book
	state  State
	volume catalog.Volume
	plan   DownloadPlan
	ref    domain.FileRef
	log    *slog.Logger
}

func (e *Engine) resolve(ctx context.Context, bookID string) (Outcome, error) {
	book, ok, err := e.store.GetBook(ctx, bookID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load book: %w", err)
	}
	if !ok {
		return Outcome{}, domain.ErrNotFound
	}
	r := &run{
		book:  book,
		state: StateUnresolved,
		ref:   book.File,
		log:   util.LoggerFromContext(ctx).With("book_id", book.ID),
	}
	for !r.state.Terminal() {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}
		ev, err := e.step(ctx, r)
		if err != nil {
			r.log.Error("file resolution failed", "state", r.state.String(), "err", err)
			return Outcome{}, err
		}
		next, err := Next(r.state, ev)
		if err != nil {
			return Outcome{}, err
		}
		r.log.Debug("file resolution transition", "from", r.state.String(), "to", next.String())
		r.state = next
	}
	out := Outcome{BookID: book.ID, VolumeID: book.ExternalVolumeID, Final: r.state}
	if r.state == StateCached {
		out.Ref = r.ref
	}
	return out, nil
}

func (e *Engine) step(ctx context.Context, r *run) (Event, error) {
	switch r.state {
	case StateUnresolved:
		if r.book.File.IsSet() {
			return EventAlreadyResolved, nil
		}
		return EventNeedsResolution, nil
	case StateLocalProbe:
		return e.probeLocal(ctx, r)
	case StateExternalProbe:
		return e.probeExternal(ctx, r)
	case StateExternalDownload:
		return e.downloadExternal(ctx, r)
	case StatePreviewFallback:
		return e.storePreview(ctx, r)
	}
	return 0, fmt.Errorf("resolver: no step for state %s", r.state)
}

func (e *Engine) probeLocal(ctx context.Context, r *run) (Event, error) {
	path, err := firstExisting(LocalCandidates(e.localDir, r.book))
	if err != nil {
		return 0, err
	}
	if path == "" {
		return EventLocalMissing, nil
	}
	r.log.Info("local book file found", "path", path)
	url, err := e.blobs.UploadFile(ctx, storage.BookFileKey(r.book.ID, filepath.Ext(path)), path)
	if err != nil {
		return 0, fmt.Errorf("upload local file: %w", err)
	}
	return e.persist(ctx, r, domain.DownloadRef(url))
}

func (e *Engine) probeExternal(ctx context.Context, r *run) (Event, error) {
	volumeID := strings.TrimSpace(r.book.ExternalVolumeID)
	if volumeID == "" || e.catalog == nil {
		return EventVolumeUnavailable, nil
	}
	volume, err := e.catalog.FetchVolume(ctx, volumeID)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		r.log.Warn("catalog volume unavailable", "volume_id", volumeID, "err", err)
		return EventVolumeUnavailable, nil
	}
	r.volume = volume
	plan, ok := PickDownload(volume.AccessInfo)
	if !ok {
		return EventDownloadMissing, nil
	}
	r.plan = plan
	return EventDownloadOffered, nil
}

func (e *Engine) downloadExternal(ctx context.Context, r *run) (Event, error) {
	if err := os.MkdirAll(e.scratchDir, 0o755); err != nil {
		return 0, fmt.Errorf("create scratch dir: %w", err)
	}
	scratch, err := os.CreateTemp(e.scratchDir, "book_"+r.book.ID+"-*"+r.plan.Ext)
	if err != nil {
		return 0, fmt.Errorf("create scratch file: %w", err)
	}
	scratchPath := scratch.Name()
	defer os.Remove(scratchPath)

	fetchErr, writeErr := e.fetchTo(ctx, r.plan.URL, scratch)
	closeErr := scratch.Close()
	if writeErr != nil {
		return 0, fmt.Errorf("write scratch file: %w", writeErr)
	}
	if fetchErr != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		r.log.Warn("external book download failed", "url", r.plan.URL, "err", fetchErr)
		return EventFetchFailed, nil
	}
	if closeErr != nil {
		return 0, fmt.Errorf("close scratch file: %w", closeErr)
	}

	url, err := e.blobs.UploadFile(ctx, storage.BookFileKey(r.book.ID, r.plan.Ext), scratchPath)
	if err != nil {
		return 0, fmt.Errorf("upload downloaded file: %w", err)
	}
	return e.persist(ctx, r, domain.DownloadRef(url))
}

func (e *Engine) storePreview(ctx context.Context, r *run) (Event, error) {
	link := PreviewLink(r.volume)
	if link == "" {
		return EventPreviewMissing, nil
	}
	return e.persist(ctx, r, domain.PreviewRef(link))
}

func (e *Engine) persist(ctx context.Context, r *run, ref domain.FileRef) (Event, error) {
	stored, err := e.store.SetBookFileIfEmpty(ctx, r.book.ID, ref)
	if err != nil {
		return 0, fmt.Errorf("persist file reference: %w", err)
	}
	if stored != ref {
		r.log.Info("file reference already set by another resolver", "kind", string(stored.Kind))
	}
	r.ref = stored
	return EventStored, nil
}

// fetchTo separates network failures from local write failures.
func (e *Engine) fetchTo(ctx context.Context, url string, dst io.Writer) (fetchErr, writeErr error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err, nil
	}
	resp, err := e.http.Do(req)
	if err != nil {
		return err, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &domain.UpstreamError{Service: "book-download", Status: resp.StatusCode}, nil
	}
	w := &trackingWriter{w: dst}
	if _, err := io.Copy(w, resp.Body); err != nil {
		if w.err != nil {
			return nil, w.err
		}
		return err, nil
	}
	return nil, nil
}

type trackingWriter struct {
	w   io.Writer
	err error
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil {
		t.err = err
	}
	return n, err
}

func firstExisting(paths []string) (string, error) {
	for _, p := range paths {
		info, err := os.Stat(p)
		if err == nil {
			if info.Mode().IsRegular() {
				return p, nil
			}
			continue
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", p, err)
		}
	}
	return "", nil
}
