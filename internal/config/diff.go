package config

import (
	"reflect"

	logx "sheetload/pkg/logx"
)

// SummarizeChange lists the top-level sections that differ between two
// configs, with safe attributes for logging. Tokens are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var changed []string
	var attrs []logx.Field

	if oldCfg.Credentials != newCfg.Credentials {
		changed = append(changed, "credentials")
		attrs = append(attrs, logx.String("credentials", newCfg.Credentials))
	}
	if oldCfg.Jobs != newCfg.Jobs {
		changed = append(changed, "jobs")
		attrs = append(attrs, logx.String("jobs.sheet", newCfg.Jobs.Sheet), logx.String("jobs.range", newCfg.Jobs.Range))
	}
	if oldCfg.RunLog != newCfg.RunLog {
		changed = append(changed, "run_log")
		attrs = append(attrs, logx.String("run_log.sheet", newCfg.RunLog.Sheet))
	}
	if oldCfg.Sheets != newCfg.Sheets {
		changed = append(changed, "sheets")
		attrs = append(attrs, logx.Float64("sheets.rate_per_sec", newCfg.Sheets.RatePerSec), logx.Int("sheets.burst", newCfg.Sheets.Burst))
	}
	if oldCfg.Retry != newCfg.Retry {
		changed = append(changed, "retry")
		attrs = append(attrs, logx.String("retry.base", newCfg.Retry.Base), logx.String("retry.max_delay", newCfg.Retry.MaxDelay))
	}
	if oldCfg.Warehouse != newCfg.Warehouse {
		changed = append(changed, "warehouse")
		attrs = append(attrs, logx.String("warehouse.driver", newCfg.Warehouse.Driver), logx.Int("warehouse.chunk_size", newCfg.Warehouse.ChunkSize))
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs, logx.String("logging.level", newCfg.Logging.Level), logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled))
	}
	if oldCfg.Daemon != newCfg.Daemon {
		changed = append(changed, "daemon")
		attrs = append(attrs, logx.String("daemon.cron", newCfg.Daemon.Cron), logx.String("daemon.timezone", newCfg.Daemon.Timezone))
	}
	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		attrs = append(attrs, logx.Bool("notifier.enabled", newCfg.Notifier != nil && newCfg.Notifier.Enabled))
	}
	return changed, attrs
}
