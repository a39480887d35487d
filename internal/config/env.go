package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override file values.
const (
	EnvCredentials     = "SHEETLOAD_CREDENTIALS"
	EnvJobConfigURL    = "SHEETLOAD_JOB_CONFIG_URL"
	EnvLogURL          = "SHEETLOAD_LOG_URL"
	EnvLogLevel        = "SHEETLOAD_LOG_LEVEL"
	EnvWarehouseDriver = "SHEETLOAD_WAREHOUSE_DRIVER"
	EnvProject         = "SHEETLOAD_PROJECT"
	EnvNotifierToken   = "SHEETLOAD_TELEGRAM_TOKEN"
	EnvNotifierChatID  = "SHEETLOAD_TELEGRAM_CHAT_ID"
)

// LoadEnv loads .env style files into the process environment. Missing
// files are skipped; variables already set are kept.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// ApplyEnv overwrites cfg fields with any set SHEETLOAD_* variables.
func ApplyEnv(cfg *Config) {
	setString(&cfg.Credentials, EnvCredentials)
	setString(&cfg.Jobs.URL, EnvJobConfigURL)
	setString(&cfg.RunLog.URL, EnvLogURL)
	setString(&cfg.Logging.Level, EnvLogLevel)
	setString(&cfg.Warehouse.Driver, EnvWarehouseDriver)
	setString(&cfg.Warehouse.Project, EnvProject)

	token := getEnv(EnvNotifierToken, "")
	chat := getEnvAsInt64(EnvNotifierChatID, 0)
	if token != "" || chat != 0 {
		if cfg.Notifier == nil {
			cfg.Notifier = &NotifierConfig{Enabled: true}
		}
		if token != "" {
			cfg.Notifier.Token = token
		}
		if chat != 0 {
			cfg.Notifier.ChatID = chat
		}
	}
}

func setString(dst *string, key string) {
	if v := getEnv(key, ""); v != "" {
		*dst = v
	}
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return def
}

func getEnvAsInt64(key string, def int64) int64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
