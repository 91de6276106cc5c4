package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"bookstore/internal/util"
	"bookstore/pkg/domain"
	"bookstore/pkg/storage"
)

const (
	defaultSeedMaxBytes    = 10 << 20
	defaultSeedConcurrency = 4
	seedInventory          = 100
)

var (
	// Seed flags
	seedDir         string
	seedDryRun      bool
	seedConcurrency int
	seedMaxBytes    int64
)

// seedCmd creates books from a directory of files
var seedCmd = &cobra.Command{
	Use:   "seed-local",
	Short: "Create books from local PDF and EPUB files",
	Long: `Upload every .pdf and .epub file in a directory to the blob store and create
a book for it. The title is derived from the file name; files whose title is
already in the catalog are skipped.

Examples:
  bookstorectl seed-local --dir books
  bookstorectl seed-local --dir books --dry-run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()
		var blobs storage.BlobStore
		if !seedDryRun {
			minio, err := openBlobs()
			if err != nil {
				return err
			}
			blobs = minio
		}
		s := &seeder{
			store:       db,
			blobs:       blobs,
			maxBytes:    seedMaxBytes,
			concurrency: seedConcurrency,
			priceCents:  importPriceCents(),
			dryRun:      seedDryRun,
		}
		results, err := s.run(cmd.Context(), seedDir)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), results)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "FILE\tSTATUS\tBOOK\tTITLE")
		for _, r := range results {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.File, r.Status, firstNonEmpty(r.BookID, "-"), firstNonEmpty(r.Title, r.Error))
		}
		return w.Flush()
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedDir, "dir", "books", "Directory containing book files")
	seedCmd.Flags().BoolVar(&seedDryRun, "dry-run", false, "Report what would be created without uploading")
	seedCmd.Flags().IntVar(&seedConcurrency, "concurrency", defaultSeedConcurrency, "Parallel uploads")
	seedCmd.Flags().Int64Var(&seedMaxBytes, "max-bytes", defaultSeedMaxBytes, "Skip files larger than this")
	rootCmd.AddCommand(seedCmd)
}

type seedStore interface {
	CreateBook(ctx context.Context, b domain.Book) (domain.Book, error)
	SearchBooksByTitle(ctx context.Context, title string, limit int) ([]domain.Book, error)
}

type seeder struct {
	store       seedStore
	blobs       storage.BlobStore
	maxBytes    int64
	concurrency int
	priceCents  int64
	dryRun      bool
}

type seedResult struct {
	File   string `json:"file"`
	Title  string `json:"title,omitempty"`
	BookID string `json:"bookId,omitempty"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

const (
	seedCreated  = "created"
	seedPlanned  = "planned"
	seedExists   = "exists"
	seedTooLarge = "too_large"
	seedFailed   = "failed"
)

// run processes files in name order. Per-file failures are reported in the
// results; only directory and context errors abort the run.
func (s *seeder) run(ctx context.Context, dir string) ([]seedResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read seed dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".pdf", ".epub":
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	results := make([]seedResult, len(files))
	seen := make(map[string]bool, len(files))
	for i, name := range files {
		title := titleFromFilename(name)
		results[i] = seedResult{File: name, Title: title}
		key := strings.ToLower(title)
		if seen[key] {
			results[i].Status = seedExists
			continue
		}
		seen[key] = true
	}

	limit := s.concurrency
	if limit <= 0 {
		limit = defaultSeedConcurrency
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range results {
		if results[i].Status != "" {
			continue
		}
		res := &results[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s.seedOne(gctx, filepath.Join(dir, res.File), res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (s *seeder) seedOne(ctx context.Context, path string, res *seedResult) {
	logger := util.LoggerFromContext(ctx).With("file", res.File)
	info, err := os.Stat(path)
	if err != nil {
		res.Status, res.Error = seedFailed, err.Error()
		return
	}
	if s.maxBytes > 0 && info.Size() > s.maxBytes {
		res.Status = seedTooLarge
		return
	}
	existing, err := s.store.SearchBooksByTitle(ctx, res.Title, 50)
	if err != nil {
		res.Status, res.Error = seedFailed, err.Error()
		return
	}
	for _, b := range existing {
		if strings.EqualFold(b.Title, res.Title) {
			res.Status, res.BookID = seedExists, b.ID
			return
		}
	}
	if s.dryRun {
		res.Status = seedPlanned
		return
	}

	id := util.NewID()
	key := storage.BookFileKey(id, strings.ToLower(filepath.Ext(path)))
	url, err := s.blobs.UploadFile(ctx, key, path)
	if err != nil {
		res.Status, res.Error = seedFailed, fmt.Sprintf("upload: %v", err)
		return
	}
	book, err := s.store.CreateBook(ctx, domain.Book{
		ID:         id,
		Title:      res.Title,
		PriceCents: s.priceCents,
		Currency:   "USD",
		Inventory:  seedInventory,
		File:       domain.DownloadRef(url),
	})
	if err != nil {
		if delErr := s.blobs.Delete(ctx, key); delErr != nil {
			logger.Warn("seed cleanup failed", "key", key, "err", delErr)
		}
		res.Status, res.Error = seedFailed, fmt.Sprintf("create book: %v", err)
		return
	}
	logger.Info("seeded book", slog.String("book_id", book.ID))
	res.Status, res.BookID = seedCreated, book.ID
}

// titleFromFilename turns "the_great-gatsby.pdf" into "the great gatsby".
func titleFromFilename(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	return strings.Join(strings.Fields(base), " ")
}
