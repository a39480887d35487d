package config

// Config is the on-disk configuration. Apart from the credentials and the
// job table and run log URLs, every field has a default.
//
// Durations are Go duration strings ("500ms", "5s", "1m").
type Config struct {
	// Credentials is the path to a Google service-account JSON key.
	Credentials string `json:"credentials"`

	Jobs      JobsConfig      `json:"jobs"`
	RunLog    RunLogConfig    `json:"run_log"`
	Sheets    SheetsConfig    `json:"sheets"`
	Retry     RetryConfig     `json:"retry"`
	Warehouse WarehouseConfig `json:"warehouse"`
	Logging   LoggingConfig   `json:"logging"`
	Daemon    DaemonConfig    `json:"daemon"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
}

// JobsConfig locates the job table.
//
// Defaults: sheet "jobs", range "A:H".
type JobsConfig struct {
	URL   string `json:"url"`
	Sheet string `json:"sheet,omitempty"`
	Range string `json:"range,omitempty"`
}

// RunLogConfig locates the run log. Defaults: sheet "Sheet1".
type RunLogConfig struct {
	URL   string `json:"url"`
	Sheet string `json:"sheet,omitempty"`
}

// SheetsConfig paces spreadsheet API calls. Defaults: 1 req/s, burst 5.
type SheetsConfig struct {
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
}

// RetryConfig is the backoff applied to every remote call.
//
// Defaults:
//   - base: "1s"
//   - multiplier: 2
//   - max_delay: "60s"
//   - read_attempts / load_attempts: 8
//   - append_attempts: 9
type RetryConfig struct {
	Base           string  `json:"base,omitempty"`
	Multiplier     float64 `json:"multiplier,omitempty"`
	MaxDelay       string  `json:"max_delay,omitempty"`
	Jitter         float64 `json:"jitter,omitempty"`
	ReadAttempts   int     `json:"read_attempts,omitempty"`
	LoadAttempts   int     `json:"load_attempts,omitempty"`
	AppendAttempts int     `json:"append_attempts,omitempty"`
}

// WarehouseConfig selects the table store.
//
// Example:
//
//	"warehouse": { "driver": "sqlite", "path": "./data/warehouse.db" }
type WarehouseConfig struct {
	Driver   string `json:"driver,omitempty"` // "bigquery" (default) or "sqlite"
	Project  string `json:"project,omitempty"`
	Location string `json:"location,omitempty"`

	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`

	ChunkSize int    `json:"chunk_size,omitempty"`
	Pause     string `json:"pause,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DaemonConfig applies to `sheetload -daemon`.
type DaemonConfig struct {
	Cron     string `json:"cron,omitempty"`     // default "0 6 * * *"
	Timezone string `json:"timezone,omitempty"` // default local
	LockFile string `json:"lock_file,omitempty"`
}

// NotifierConfig sends a Telegram summary when a run has failures.
type NotifierConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
}
