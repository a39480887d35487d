package warehouse

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/oauth2/google"

	logx "sheetload/pkg/logx"
)

// StoreConfig selects and configures a Backend.
type StoreConfig struct {
	Driver string // "bigquery" (default) or "sqlite"

	// BigQuery.
	Project  string
	Location string

	// SQLite.
	Path        string
	BusyTimeout time.Duration
}

// Open initializes the configured backend. creds are required for bigquery
// and ignored otherwise.
func Open(ctx context.Context, cfg StoreConfig, creds *google.Credentials, log logx.Logger) (Backend, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "bigquery", "bq":
		if creds == nil {
			return nil, errors.New("bigquery backend requires credentials")
		}
		return NewBigQuery(ctx, cfg, creds, log)
	case "sqlite", "sqlite3":
		return OpenSQLite(cfg, log)
	default:
		return nil, errors.New("unknown warehouse driver: " + driver)
	}
}
