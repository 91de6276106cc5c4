package resolver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bookstore/pkg/catalog"
	"bookstore/pkg/domain"
	"bookstore/pkg/store"
)

type fakeCatalog struct {
	volumes map[string]catalog.Volume
	calls   atomic.Int32
	gate    chan struct{}
}

func (f *fakeCatalog) FetchVolume(ctx context.Context, id string) (catalog.Volume, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return catalog.Volume{}, ctx.Err()
		}
	}
	v, ok := f.volumes[id]
	if !ok {
		return catalog.Volume{}, domain.ErrNotFound
	}
	return v, nil
}

type fakeUploader struct {
	mu      sync.Mutex
	keys    []string
	bodies  []string
	err     error
	checked func(path string)
}

func (f *fakeUploader) UploadFile(_ context.Context, key, localPath string) (string, error) {
	if f.checked != nil {
		f.checked(localPath)
	}
	if f.err != nil {
		return "", f.err
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	f.bodies = append(f.bodies, string(data))
	return "https://cdn.example/" + key, nil
}

func newEngine(t *testing.T, st BookStore, cat VolumeFetcher, up Uploader, localDir string) *Engine {
	t.Helper()
	eng, err := New(Config{
		Store:      st,
		Catalog:    cat,
		Blobs:      up,
		LocalDir:   localDir,
		ScratchDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return eng
}

func seedBook(t *testing.T, st *store.MemoryStore, b domain.Book) domain.Book {
	t.Helper()
	created, err := st.CreateBook(context.Background(), b)
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	return created
}

func TestNextTransitions(t *testing.T) {
	tests := []struct {
		from State
		ev   Event
		want State
	}{
		{StateUnresolved, EventAlreadyResolved, StateCached},
		{StateUnresolved, EventNeedsResolution, StateLocalProbe},
		{StateLocalProbe, EventStored, StateCached},
		{StateLocalProbe, EventLocalMissing, StateExternalProbe},
		{StateExternalProbe, EventVolumeUnavailable, StateExhausted},
		{StateExternalProbe, EventDownloadOffered, StateExternalDownload},
		{StateExternalProbe, EventDownloadMissing, StatePreviewFallback},
		{StateExternalDownload, EventStored, StateCached},
		{StateExternalDownload, EventFetchFailed, StateExhausted},
		{StatePreviewFallback, EventStored, StateCached},
		{StatePreviewFallback, EventPreviewMissing, StateExhausted},
	}
	for _, tc := range tests {
		got, err := Next(tc.from, tc.ev)
		if err != nil {
			t.Fatalf("Next(%s, %d): %v", tc.from, tc.ev, err)
		}
		if got != tc.want {
			t.Fatalf("Next(%s, %d) = %s, want %s", tc.from, tc.ev, got, tc.want)
		}
	}
}

func TestNextRejectsUnknownTransitions(t *testing.T) {
	if _, err := Next(StateCached, EventStored); err == nil {
		t.Fatalf("expected terminal state to reject events")
	}
	if _, err := Next(StateExternalDownload, EventPreviewMissing); err == nil {
		t.Fatalf("expected invalid event to be rejected")
	}
}

func TestLocalCandidatesOrder(t *testing.T) {
	got := LocalCandidates("/books", domain.Book{ID: "b1", ExternalVolumeID: "vol", Title: "The Hobbit!"})
	want := []string{
		"/books/b1.pdf", "/books/b1.epub",
		"/books/vol.pdf", "/books/vol.epub",
		"/books/the-hobbit.pdf", "/books/the-hobbit.epub",
	}
	if len(got) != len(want) {
		t.Fatalf("candidates = %v", got)
	}
	for i := range want {
		if got[i] != filepath.FromSlash(want[i]) {
			t.Fatalf("candidate %d = %q, want %q", i, got[i], want[i])
		}
	}
	if LocalCandidates("", domain.Book{ID: "b1"}) != nil {
		t.Fatalf("empty dir should yield no candidates")
	}
	if c := LocalCandidates("/books", domain.Book{ID: "b1", ExternalVolumeID: "../x"}); len(c) != 2 {
		t.Fatalf("path-like names should be skipped, got %v", c)
	}
}

func TestPickDownloadPrefersEPUB(t *testing.T) {
	access := catalog.AccessInfo{
		EPUB: catalog.FormatAccess{IsAvailable: true, DownloadLink: "https://x/b.epub"},
		PDF:  catalog.FormatAccess{IsAvailable: true, DownloadLink: "https://x/b.pdf"},
	}
	plan, ok := PickDownload(access)
	if !ok || plan.Ext != ".epub" {
		t.Fatalf("plan = %+v ok=%v", plan, ok)
	}
	access.EPUB.IsAvailable = false
	plan, ok = PickDownload(access)
	if !ok || plan.Ext != ".pdf" {
		t.Fatalf("plan = %+v ok=%v", plan, ok)
	}
	access.PDF.IsAvailable = false
	if _, ok := PickDownload(access); ok {
		t.Fatalf("unavailable formats must not be picked even with links")
	}
}

func TestPreviewLinkFallsBack(t *testing.T) {
	v := catalog.Volume{VolumeInfo: catalog.VolumeInfo{PreviewLink: "https://p"}}
	if PreviewLink(v) != "https://p" {
		t.Fatalf("expected preview link")
	}
	v.AccessInfo.WebReaderLink = "https://r"
	if PreviewLink(v) != "https://r" {
		t.Fatalf("expected web reader link to win")
	}
}

func TestResolveReturnsCachedReference(t *testing.T) {
	st := store.NewMemoryStore()
	book := seedBook(t, st, domain.Book{Title: "Cached", File: domain.DownloadRef("https://cdn/x.pdf")})
	cat := &fakeCatalog{}
	eng := newEngine(t, st, cat, &fakeUploader{}, "")

	out, err := eng.Resolve(context.Background(), book.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out.Ref != domain.DownloadRef("https://cdn/x.pdf") || out.Final != StateCached {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if cat.calls.Load() != 0 {
		t.Fatalf("cached book must not hit the catalog")
	}
}

func TestResolveUnknownBook(t *testing.T) {
	eng := newEngine(t, store.NewMemoryStore(), nil, &fakeUploader{}, "")
	if _, err := eng.Resolve(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveUploadsLocalFile(t *testing.T) {
	st := store.NewMemoryStore()
	book := seedBook(t, st, domain.Book{Title: "Local Hero", ExternalVolumeID: "vol-1"})
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "local-hero.epub"), []byte("epub-bytes"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	up := &fakeUploader{}
	cat := &fakeCatalog{}
	eng := newEngine(t, st, cat, up, dir)

	out, err := eng.Resolve(context.Background(), book.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	wantKey := "books/files/book_" + book.ID + ".epub"
	if len(up.keys) != 1 || up.keys[0] != wantKey || up.bodies[0] != "epub-bytes" {
		t.Fatalf("unexpected upload: %v %v", up.keys, up.bodies)
	}
	if out.Ref != domain.DownloadRef("https://cdn.example/"+wantKey) {
		t.Fatalf("ref = %+v", out.Ref)
	}
	if cat.calls.Load() != 0 {
		t.Fatalf("local hit must not query the catalog")
	}
	stored, _, _ := st.GetBook(context.Background(), book.ID)
	if stored.File != out.Ref {
		t.Fatalf("reference not persisted: %+v", stored.File)
	}
}

func TestResolveDownloadsExternalEPUB(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/b.epub":
			w.Write([]byte("remote-epub"))
		default:
			t.Errorf("unexpected download %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	st := store.NewMemoryStore()
	book := seedBook(t, st, domain.Book{Title: "Remote", ExternalVolumeID: "vol-2"})
	cat := &fakeCatalog{volumes: map[string]catalog.Volume{
		"vol-2": {ID: "vol-2", AccessInfo: catalog.AccessInfo{
			EPUB: catalog.FormatAccess{IsAvailable: true, DownloadLink: srv.URL + "/b.epub"},
			PDF:  catalog.FormatAccess{IsAvailable: true, DownloadLink: srv.URL + "/b.pdf"},
		}},
	}}
	var scratchPath string
	up := &fakeUploader{checked: func(p string) { scratchPath = p }}
	eng := newEngine(t, st, cat, up, t.TempDir())

	out, err := eng.Resolve(context.Background(), book.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out.Ref.Kind != domain.FileDownload || !strings.HasSuffix(out.Ref.URL, "book_"+book.ID+".epub") {
		t.Fatalf("ref = %+v", out.Ref)
	}
	if up.bodies[0] != "remote-epub" {
		t.Fatalf("uploaded body = %q", up.bodies[0])
	}
	if _, err := os.Stat(scratchPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("scratch file should be removed, stat err = %v", err)
	}
}

func TestResolveFallsBackToPreview(t *testing.T) {
	st := store.NewMemoryStore()
	book := seedBook(t, st, domain.Book{Title: "Preview Only", ExternalVolumeID: "vol-3"})
	cat := &fakeCatalog{volumes: map[string]catalog.Volume{
		"vol-3": {
			ID:         "vol-3",
			VolumeInfo: catalog.VolumeInfo{PreviewLink: "https://books.example/preview"},
			AccessInfo: catalog.AccessInfo{
				WebReaderLink: "https://books.example/reader",
				// Link present but flagged unavailable.
				PDF: catalog.FormatAccess{IsAvailable: false, DownloadLink: "https://books.example/x.pdf"},
			},
		},
	}}
	up := &fakeUploader{}
	eng := newEngine(t, st, cat, up, "")

	out, err := eng.Resolve(context.Background(), book.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out.Ref != domain.PreviewRef("https://books.example/reader") {
		t.Fatalf("ref = %+v", out.Ref)
	}
	if len(up.keys) != 0 {
		t.Fatalf("preview must not upload anything")
	}
}

func TestResolveExhaustedWithoutVolume(t *testing.T) {
	st := store.NewMemoryStore()
	book := seedBook(t, st, domain.Book{Title: "Orphan"})
	eng := newEngine(t, st, &fakeCatalog{}, &fakeUploader{}, t.TempDir())

	out, err := eng.Resolve(context.Background(), book.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !out.Exhausted() || out.Final != StateExhausted {
		t.Fatalf("expected exhausted outcome, got %+v", out)
	}
	stored, _, _ := st.GetBook(context.Background(), book.ID)
	if stored.File.IsSet() {
		t.Fatalf("exhausted resolution must not persist a reference")
	}
}

func TestResolveFetchFailureIsExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	st := store.NewMemoryStore()
	book := seedBook(t, st, domain.Book{Title: "Blocked", ExternalVolumeID: "vol-4"})
	cat := &fakeCatalog{volumes: map[string]catalog.Volume{
		"vol-4": {ID: "vol-4", AccessInfo: catalog.AccessInfo{
			WebReaderLink: "https://books.example/reader",
			PDF:           catalog.FormatAccess{IsAvailable: true, DownloadLink: srv.URL + "/b.pdf"},
		}},
	}}
	scratch := t.TempDir()
	eng, err := New(Config{Store: st, Catalog: cat, Blobs: &fakeUploader{}, ScratchDir: scratch})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	out, err := eng.Resolve(context.Background(), book.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !out.Exhausted() {
		t.Fatalf("expected exhausted outcome, got %+v", out)
	}
	entries, _ := os.ReadDir(scratch)
	if len(entries) != 0 {
		t.Fatalf("scratch dir not cleaned: %d entries", len(entries))
	}
}

func TestResolveUploadErrorPropagates(t *testing.T) {
	st := store.NewMemoryStore()
	book := seedBook(t, st, domain.Book{Title: "Fails"})
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, book.ID+".pdf"), []byte("pdf"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	boom := errors.New("bucket offline")
	eng := newEngine(t, st, nil, &fakeUploader{err: boom}, dir)

	if _, err := eng.Resolve(context.Background(), book.ID); !errors.Is(err, boom) {
		t.Fatalf("expected upload error, got %v", err)
	}
	stored, _, _ := st.GetBook(context.Background(), book.ID)
	if stored.File.IsSet() {
		t.Fatalf("failed upload must not persist a reference")
	}
}

func TestResolveKeepsFirstWriter(t *testing.T) {
	st := store.NewMemoryStore()
	book := seedBook(t, st, domain.Book{Title: "Raced"})
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, book.ID+".pdf"), []byte("pdf"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	winner := domain.DownloadRef("https://cdn.example/winner.pdf")
	up := &fakeUploader{checked: func(string) {
		// Another process persists first.
		if _, err := st.SetBookFileIfEmpty(context.Background(), book.ID, winner); err != nil {
			t.Errorf("set: %v", err)
		}
	}}
	eng := newEngine(t, st, nil, up, dir)

	out, err := eng.Resolve(context.Background(), book.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out.Ref != winner {
		t.Fatalf("expected first writer's ref, got %+v", out.Ref)
	}
}

func TestResolveCollapsesConcurrentCalls(t *testing.T) {
	st := store.NewMemoryStore()
	book := seedBook(t, st, domain.Book{Title: "Popular", ExternalVolumeID: "vol-5"})
	cat := &fakeCatalog{
		gate: make(chan struct{}),
		volumes: map[string]catalog.Volume{
			"vol-5": {ID: "vol-5", AccessInfo: catalog.AccessInfo{WebReaderLink: "https://r"}},
		},
	}
	eng := newEngine(t, st, cat, &fakeUploader{}, "")

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := eng.Resolve(context.Background(), book.ID)
			if err == nil && out.Ref != domain.PreviewRef("https://r") {
				err = errors.New("unexpected ref " + out.Ref.URL)
			}
			errs <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(cat.gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
	}
	if n := cat.calls.Load(); n != 1 {
		t.Fatalf("expected one catalog call, got %d", n)
	}
}

func TestResolveWaiterHonorsOwnContext(t *testing.T) {
	st := store.NewMemoryStore()
	book := seedBook(t, st, domain.Book{Title: "Slow", ExternalVolumeID: "vol-6"})
	cat := &fakeCatalog{gate: make(chan struct{})}
	defer close(cat.gate)
	eng := newEngine(t, st, cat, &fakeUploader{}, "")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := eng.Resolve(ctx, book.ID); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestResolveSharedRunSurvivesFirstCallerCancel(t *testing.T) {
	st := store.NewMemoryStore()
	book := seedBook(t, st, domain.Book{Title: "Shared", ExternalVolumeID: "vol-7"})
	cat := &fakeCatalog{
		gate: make(chan struct{}),
		volumes: map[string]catalog.Volume{
			"vol-7": {ID: "vol-7", AccessInfo: catalog.AccessInfo{WebReaderLink: "https://reader/7"}},
		},
	}
	eng := newEngine(t, st, cat, &fakeUploader{}, "")

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := eng.Resolve(firstCtx, book.ID)
		firstErr <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for cat.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("first resolve never reached the catalog")
		}
		time.Sleep(time.Millisecond)
	}

	type result struct {
		out Outcome
		err error
	}
	second := make(chan result, 1)
	go func() {
		out, err := eng.Resolve(context.Background(), book.ID)
		second <- result{out, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("first caller: expected canceled, got %v", err)
	}
	close(cat.gate)

	got := <-second
	if got.err != nil {
		t.Fatalf("second caller: %v", got.err)
	}
	if got.out.Ref != domain.PreviewRef("https://reader/7") {
		t.Fatalf("second caller ref = %+v", got.out.Ref)
	}
	if n := cat.calls.Load(); n != 1 {
		t.Fatalf("expected one catalog call, got %d", n)
	}
}

func TestResolveRunTimeoutBoundsSharedRun(t *testing.T) {
	st := store.NewMemoryStore()
	book := seedBook(t, st, domain.Book{Title: "Stuck", ExternalVolumeID: "vol-8"})
	cat := &fakeCatalog{gate: make(chan struct{})}
	defer close(cat.gate)
	eng, err := New(Config{Store: st, Catalog: cat, Blobs: &fakeUploader{}, ScratchDir: t.TempDir(), RunTimeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	if _, err := eng.Resolve(context.Background(), book.ID); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected run deadline, got %v", err)
	}
}
