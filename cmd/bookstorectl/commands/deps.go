package commands

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"bookstore/pkg/catalog"
	"bookstore/pkg/storage"
	"bookstore/pkg/store"
)

const defaultImportPriceCents = 1999

func openStore() (*store.GormStore, error) {
	dsn, err := databaseURL()
	if err != nil {
		return nil, err
	}
	return store.NewGormStore(dsn)
}

func openBlobs() (*storage.MinioStore, error) {
	cfg := storage.MinioConfig{
		Endpoint:      os.Getenv("MINIO_ENDPOINT"),
		AccessKey:     os.Getenv("MINIO_ACCESS_KEY"),
		SecretKey:     os.Getenv("MINIO_SECRET_KEY"),
		Bucket:        os.Getenv("MINIO_BUCKET"),
		UseSSL:        os.Getenv("MINIO_USE_SSL") == "true",
		PublicBaseURL: os.Getenv("MINIO_PUBLIC_BASE_URL"),
	}
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("blob store settings required (MINIO_ENDPOINT, MINIO_ACCESS_KEY, MINIO_SECRET_KEY, MINIO_BUCKET)")
	}
	return storage.NewMinioStore(cfg)
}

func newCatalog() *catalog.Client {
	return catalog.NewClient(catalog.Config{
		BaseURL:          os.Getenv("GOOGLE_BOOKS_BASE_URL"),
		APIKey:           os.Getenv("GOOGLE_BOOKS_API_KEY"),
		Timeout:          8 * time.Second,
		SearchPriceCents: importPriceCents(),
		HTTPClient:       &http.Client{Timeout: 30 * time.Second},
	})
}

func importPriceCents() int64 {
	if v := strings.TrimSpace(os.Getenv("IMPORT_PRICE_CENTS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return defaultImportPriceCents
}
