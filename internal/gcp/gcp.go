// Package gcp holds the Google Cloud plumbing shared by the sheet and
// table-store backends: service-account credentials and error classification.
package gcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"

	"sheetload/internal/retry"
)

const (
	ScopeSpreadsheets  = "https://www.googleapis.com/auth/spreadsheets"
	ScopeCloudPlatform = "https://www.googleapis.com/auth/cloud-platform"
)

// LoadCredentials reads a service-account JSON key file.
func LoadCredentials(ctx context.Context, path string, scopes ...string) (*google.Credentials, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("credentials file is required")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials %q: %w", path, err)
	}
	creds, err := google.CredentialsFromJSON(ctx, b, scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse credentials %q: %w", path, err)
	}
	return creds, nil
}

// rateReasons are googleapi error reasons that indicate quota pressure or a
// backend hiccup rather than a bad request.
var rateReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"quotaExceeded":         true,
	"backendError":          true,
	"internalError":         true,
}

// Classify marks rate-limit and server-side API failures as transient.
// Other errors are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var ge *googleapi.Error
	if !errors.As(err, &ge) {
		return err
	}
	transient := ge.Code == http.StatusTooManyRequests || ge.Code >= 500
	if !transient && ge.Code == http.StatusForbidden {
		for _, it := range ge.Errors {
			if rateReasons[it.Reason] {
				transient = true
				break
			}
		}
	}
	if !transient {
		return err
	}
	if d, ok := retryAfter(ge.Header); ok {
		return retry.After(err, d)
	}
	return retry.Transient(err)
}

// IsNotFound reports whether err is an API 404.
func IsNotFound(err error) bool {
	var ge *googleapi.Error
	return errors.As(err, &ge) && ge.Code == http.StatusNotFound
}

// IsRateReason reports whether reason names a retryable quota/backend condition.
func IsRateReason(reason string) bool { return rateReasons[reason] }

func retryAfter(h http.Header) (time.Duration, bool) {
	if h == nil {
		return 0, false
	}
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		d := time.Until(at)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
