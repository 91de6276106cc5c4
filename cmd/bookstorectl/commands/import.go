package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"bookstore/pkg/catalog"
	"bookstore/pkg/domain"
	"bookstore/pkg/store"
)

const importInventory = 100

// importCmd persists catalog volumes as books
var importCmd = &cobra.Command{
	Use:   "import <volumeId>...",
	Short: "Import catalog volumes as books",
	Long: `Fetch each volume from the external catalog and upsert it by volume id.

Examples:
  bookstorectl import zyTCAlFPjgYC
  bookstorectl import vol1 vol2 --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()
		results := importVolumes(cmd.Context(), newCatalog(), db, importPriceCents(), args)
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), results)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "VOLUME\tBOOK\tSTATUS\tTITLE")
		failed := 0
		for _, r := range results {
			if r.Status == "failed" {
				failed++
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.VolumeID, r.BookID, r.Status, firstNonEmpty(r.Title, r.Error))
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d imports failed", failed, len(results))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}

type volumeFetcher interface {
	FetchVolume(ctx context.Context, volumeID string) (catalog.Volume, error)
}

type bookUpserter interface {
	UpsertBookByVolumeID(ctx context.Context, b domain.Book) (domain.Book, bool, error)
}

var _ bookUpserter = (store.Store)(nil)

type importResult struct {
	VolumeID string `json:"volumeId"`
	BookID   string `json:"bookId,omitempty"`
	Title    string `json:"title,omitempty"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

func importVolumes(ctx context.Context, volumes volumeFetcher, books bookUpserter, price int64, ids []string) []importResult {
	out := make([]importResult, 0, len(ids))
	for _, id := range ids {
		res := importResult{VolumeID: id}
		v, err := volumes.FetchVolume(ctx, id)
		if err != nil {
			res.Status, res.Error = "failed", err.Error()
			out = append(out, res)
			continue
		}
		book, created, err := books.UpsertBookByVolumeID(ctx, catalog.ToBook(catalog.Normalize(v, price), importInventory))
		if err != nil {
			res.Status, res.Error = "failed", err.Error()
			out = append(out, res)
			continue
		}
		res.BookID, res.Title, res.Status = book.ID, book.Title, "existing"
		if created {
			res.Status = "created"
		}
		out = append(out, res)
	}
	return out
}

func firstNonEmpty(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
