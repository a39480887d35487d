package sheets

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"sheetload/internal/gcp"
)

var reSpreadsheetID = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9_-]+)`)

// SpreadsheetID extracts the document id from a spreadsheet URL. A bare id
// is returned as-is.
func SpreadsheetID(urlOrID string) (string, error) {
	s := strings.TrimSpace(urlOrID)
	if s == "" {
		return "", errors.New("spreadsheet url is empty")
	}
	if m := reSpreadsheetID.FindStringSubmatch(s); len(m) == 2 {
		return m[1], nil
	}
	if strings.ContainsAny(s, "/?#:") {
		return "", fmt.Errorf("no spreadsheet id in %q", s)
	}
	return s, nil
}

// A1 builds a sheet-qualified A1 reference. An empty rng selects the whole sheet.
func A1(sheet, rng string) string {
	quoted := "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
	if rng == "" {
		return quoted
	}
	return quoted + "!" + rng
}

// GoogleBackend talks to the Google Sheets v4 API.
type GoogleBackend struct {
	svc *gsheets.Service
}

func NewGoogleBackend(ctx context.Context, creds *google.Credentials, opts ...option.ClientOption) (*GoogleBackend, error) {
	if creds != nil {
		opts = append([]option.ClientOption{option.WithCredentials(creds)}, opts...)
	}
	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets client: %w", err)
	}
	return &GoogleBackend{svc: svc}, nil
}

func (b *GoogleBackend) GetRange(ctx context.Context, spreadsheet, sheet, rng string) ([][]string, error) {
	id, err := SpreadsheetID(spreadsheet)
	if err != nil {
		return nil, err
	}
	resp, err := b.svc.Spreadsheets.Values.Get(id, A1(sheet, rng)).Context(ctx).Do()
	if err != nil {
		return nil, gcp.Classify(err)
	}
	out := make([][]string, len(resp.Values))
	for i, row := range resp.Values {
		cells := make([]string, len(row))
		for j, v := range row {
			if v != nil {
				cells[j] = fmt.Sprint(v)
			}
		}
		out[i] = cells
	}
	return out, nil
}

func (b *GoogleBackend) AppendRow(ctx context.Context, spreadsheet, sheet string, values []string) error {
	id, err := SpreadsheetID(spreadsheet)
	if err != nil {
		return err
	}
	row := make([]interface{}, len(values))
	for i, v := range values {
		row[i] = v
	}
	_, err = b.svc.Spreadsheets.Values.Append(id, A1(sheet, ""), &gsheets.ValueRange{Values: [][]interface{}{row}}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return gcp.Classify(err)
}
