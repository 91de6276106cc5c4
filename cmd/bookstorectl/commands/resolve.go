package commands

import (
	"fmt"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"bookstore/pkg/resolver"
)

var (
	// Resolve flags
	localDir   string
	scratchDir string
	noCatalog  bool
)

// resolveCmd runs the file resolution engine for books
var resolveCmd = &cobra.Command{
	Use:   "resolve <bookId>...",
	Short: "Resolve and cache the readable file of books",
	Long: `Run file resolution for each book: local directory, then the external
catalog's download links, then its preview link. Books that already have a
file reference are reported without any lookups.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()
		blobs, err := openBlobs()
		if err != nil {
			return err
		}
		cfg := resolver.Config{
			Store:      db,
			Blobs:      blobs,
			LocalDir:   localDir,
			ScratchDir: scratchDir,
			HTTPClient: &http.Client{Timeout: 5 * time.Minute},
		}
		if !noCatalog {
			cfg.Catalog = newCatalog()
		}
		engine, err := resolver.New(cfg)
		if err != nil {
			return err
		}

		var outcomes []resolver.Outcome
		for _, id := range args {
			out, err := engine.Resolve(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", id, err)
			}
			outcomes = append(outcomes, out)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), outcomes)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "BOOK\tSTATE\tKIND\tURL")
		for _, o := range outcomes {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", o.BookID, o.Final, firstNonEmpty(string(o.Ref.Kind), "-"), firstNonEmpty(o.Ref.URL, "-"))
		}
		return w.Flush()
	},
}

func init() {
	resolveCmd.Flags().StringVar(&localDir, "books-dir", "books", "Directory of operator-provided book files")
	resolveCmd.Flags().StringVar(&scratchDir, "scratch-dir", "", "Directory for temporary downloads (defaults to the OS temp dir)")
	resolveCmd.Flags().BoolVar(&noCatalog, "no-catalog", false, "Skip external catalog lookups")
	rootCmd.AddCommand(resolveCmd)
}
