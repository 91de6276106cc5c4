package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"bookstore/internal/util"
)

var (
	// Global flags
	dbURL      string
	jsonOutput bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "bookstorectl",
	Short: "Operate the bookstore catalog and its file cache",
	Long: `bookstorectl runs maintenance tasks against the bookstore database and blob store.

Connection settings are read from flags or the environment (a .env file is loaded
when present): DATABASE_URL, MINIO_ENDPOINT, MINIO_ACCESS_KEY, MINIO_SECRET_KEY,
MINIO_BUCKET, MINIO_USE_SSL, MINIO_PUBLIC_BASE_URL, GOOGLE_BOOKS_API_KEY.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := "warn"
		if verbose {
			level = "debug"
		}
		util.InitLogger(level)
	},
}

// Execute runs the root command
func Execute() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: failed to load .env: %v\n", err)
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "Database connection URL (defaults to DATABASE_URL)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
}

func databaseURL() (string, error) {
	if v := strings.TrimSpace(dbURL); v != "" {
		return v, nil
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("database URL required (--db or DATABASE_URL)")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
