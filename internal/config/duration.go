package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// durationOr parses raw as a Go duration ("1m30s") or a bare number of
// seconds ("5", "0.5"). Empty and zero yield def. path names the field in
// errors.
func durationOr(path, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		secs, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil {
			return 0, fmt.Errorf("%s: invalid duration %q", path, raw)
		}
		d = time.Duration(secs * float64(time.Second))
	}
	switch {
	case d < 0:
		return 0, fmt.Errorf("%s: must be >= 0", path)
	case d == 0:
		return def, nil
	}
	return d, nil
}
