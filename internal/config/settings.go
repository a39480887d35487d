package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sheetload/internal/jobs"
	"sheetload/internal/retry"
	"sheetload/internal/warehouse"
)

const (
	DefaultLogSheet       = "Sheet1"
	DefaultRatePerSec     = 1.0
	DefaultBurst          = 5
	DefaultAppendAttempts = 9
	DefaultCron           = "0 6 * * *"
)

// Settings is Config with defaults applied and durations parsed.
type Settings struct {
	Credentials string

	JobsURL   string
	JobsSheet string
	JobsRange string

	LogURL   string
	LogSheet string

	SheetsRate  float64
	SheetsBurst int

	Read   retry.Policy
	Load   retry.Policy
	Append retry.Policy

	Warehouse warehouse.StoreConfig
	ChunkSize int
	Pause     time.Duration

	Cron     string
	Location *time.Location
	LockFile string

	Notifier *NotifierSettings
}

type NotifierSettings struct {
	Token      string
	ChatID     int64
	ThreadID   int
	RatePerSec int
	Timeout    time.Duration
}

// Resolve validates c and fills defaults. Errors name the offending field
// by its dotted path.
func (c *Config) Resolve() (Settings, error) {
	s := Settings{
		Credentials: strings.TrimSpace(c.Credentials),
		JobsURL:     strings.TrimSpace(c.Jobs.URL),
		JobsSheet:   orDefault(c.Jobs.Sheet, jobs.DefaultSheet),
		JobsRange:   orDefault(c.Jobs.Range, jobs.DefaultRange),
		LogURL:      strings.TrimSpace(c.RunLog.URL),
		LogSheet:    orDefault(c.RunLog.Sheet, DefaultLogSheet),
		SheetsRate:  c.Sheets.RatePerSec,
		SheetsBurst: c.Sheets.Burst,
		ChunkSize:   c.Warehouse.ChunkSize,
		Cron:        orDefault(c.Daemon.Cron, DefaultCron),
		LockFile:    strings.TrimSpace(c.Daemon.LockFile),
	}
	if s.Credentials == "" {
		return Settings{}, fmt.Errorf("credentials: required")
	}
	if s.JobsURL == "" {
		return Settings{}, fmt.Errorf("jobs.url: required")
	}
	if s.LogURL == "" {
		return Settings{}, fmt.Errorf("run_log.url: required")
	}
	if s.SheetsRate < 0 {
		return Settings{}, fmt.Errorf("sheets.rate_per_sec: must be >= 0")
	}
	if s.SheetsRate == 0 {
		s.SheetsRate = DefaultRatePerSec
	}
	if s.SheetsBurst <= 0 {
		s.SheetsBurst = DefaultBurst
	}
	if s.ChunkSize < 0 {
		return Settings{}, fmt.Errorf("warehouse.chunk_size: must be >= 0")
	}
	if s.ChunkSize == 0 {
		s.ChunkSize = warehouse.DefaultChunkSize
	}
	if s.LockFile == "" {
		s.LockFile = filepath.Join(os.TempDir(), "sheetload.lock")
	}

	var err error
	if s.Pause, err = durationOr("warehouse.pause", c.Warehouse.Pause, warehouse.DefaultPause); err != nil {
		return Settings{}, err
	}

	base, err := durationOr("retry.base", c.Retry.Base, retry.DefaultBase)
	if err != nil {
		return Settings{}, err
	}
	maxDelay, err := durationOr("retry.max_delay", c.Retry.MaxDelay, retry.DefaultMaxDelay)
	if err != nil {
		return Settings{}, err
	}
	if c.Retry.Multiplier != 0 && c.Retry.Multiplier <= 1 {
		return Settings{}, fmt.Errorf("retry.multiplier: must be > 1")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter >= 1 {
		return Settings{}, fmt.Errorf("retry.jitter: must be in [0, 1)")
	}
	pol := retry.Policy{Base: base, Multiplier: c.Retry.Multiplier, MaxDelay: maxDelay, Jitter: c.Retry.Jitter}
	s.Read = pol.WithAttempts(intOrDefault(c.Retry.ReadAttempts, retry.DefaultMaxAttempts))
	s.Load = pol.WithAttempts(intOrDefault(c.Retry.LoadAttempts, retry.DefaultMaxAttempts))
	s.Append = pol.WithAttempts(intOrDefault(c.Retry.AppendAttempts, DefaultAppendAttempts))

	busy, err := durationOr("warehouse.busy_timeout", c.Warehouse.BusyTimeout, 5*time.Second)
	if err != nil {
		return Settings{}, err
	}
	s.Warehouse = warehouse.StoreConfig{
		Driver:      strings.ToLower(strings.TrimSpace(c.Warehouse.Driver)),
		Project:     strings.TrimSpace(c.Warehouse.Project),
		Location:    strings.TrimSpace(c.Warehouse.Location),
		Path:        strings.TrimSpace(c.Warehouse.Path),
		BusyTimeout: busy,
	}
	switch s.Warehouse.Driver {
	case "", "bigquery", "bq":
	case "sqlite", "sqlite3":
		if s.Warehouse.Path == "" {
			s.Warehouse.Path = "./data/warehouse.db"
		}
	default:
		return Settings{}, fmt.Errorf("warehouse.driver: unknown driver %q", c.Warehouse.Driver)
	}

	s.Location = time.Local
	if tz := strings.TrimSpace(c.Daemon.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return Settings{}, fmt.Errorf("daemon.timezone: %w", err)
		}
		s.Location = loc
	}

	if n := c.Notifier; n != nil && n.Enabled {
		if strings.TrimSpace(n.Token) == "" {
			return Settings{}, fmt.Errorf("notifier.token: required when enabled")
		}
		if n.ChatID == 0 {
			return Settings{}, fmt.Errorf("notifier.chat_id: required when enabled")
		}
		timeout, err := durationOr("notifier.timeout", n.Timeout, 10*time.Second)
		if err != nil {
			return Settings{}, err
		}
		s.Notifier = &NotifierSettings{
			Token:      strings.TrimSpace(n.Token),
			ChatID:     n.ChatID,
			ThreadID:   n.ThreadID,
			RatePerSec: intOrDefault(n.RatePerSec, 1),
			Timeout:    timeout,
		}
	}
	return s, nil
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}

func intOrDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
