// Package sheets reads ranges from and appends rows to remote spreadsheets.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"sheetload/internal/invoke"
	"sheetload/internal/retry"
	"sheetload/internal/schema"
	logx "sheetload/pkg/logx"
)

// DefaultStartingRow skips the header row.
const DefaultStartingRow = 2

var ErrEmptyRange = errors.New("range returned no rows")

// Backend is the remote key-range cell store. Implementations surface
// rate-limit conditions with retry.Transient.
type Backend interface {
	GetRange(ctx context.Context, spreadsheet, sheet, a1 string) ([][]string, error)
	AppendRow(ctx context.Context, spreadsheet, sheet string, values []string) error
}

type Config struct {
	// Read governs range reads, Write governs row appends.
	Read  retry.Policy
	Write retry.Policy

	// RatePerSec paces backend calls; 0 disables pacing.
	RatePerSec float64
	Burst      int
}

// Gateway wraps a Backend with pacing, retries and logging.
type Gateway struct {
	backend Backend
	cfg     Config
	limiter *rate.Limiter
	log     logx.Logger
}

func New(backend Backend, cfg Config, log logx.Logger) *Gateway {
	g := &Gateway{backend: backend, cfg: cfg, log: log}
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return g
}

// SplitRanges splits a comma-delimited range list. A bare reference such as
// "A" becomes "A:A". An empty list selects the whole sheet.
func SplitRanges(ranges string) []string {
	if strings.TrimSpace(ranges) == "" {
		return []string{""}
	}
	parts := strings.Split(ranges, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.Contains(p, ":") {
			p = p + ":" + p
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return []string{""}
	}
	return out
}

// ReadRange fetches every range in ranges, joins them side by side in input
// order and returns the data from startingRow (1-based) onward. Row 1 is
// always the header.
func (g *Gateway) ReadRange(ctx context.Context, spreadsheet, sheet, ranges string, startingRow int) (schema.RawTable, error) {
	return invoke.Value(ctx, "sheets.read_range", func(ctx context.Context) (schema.RawTable, error) {
		return g.readRange(ctx, spreadsheet, sheet, ranges, startingRow)
	}, invoke.Logged(g.log), invoke.Timed(g.log))
}

func (g *Gateway) readRange(ctx context.Context, spreadsheet, sheet, ranges string, startingRow int) (schema.RawTable, error) {
	if startingRow <= 0 {
		startingRow = DefaultStartingRow
	}

	var blocks [][][]string
	for _, rng := range SplitRanges(ranges) {
		rng := rng
		rows, err := invoke.Value(ctx, "sheets.get", func(ctx context.Context) ([][]string, error) {
			if err := g.wait(ctx); err != nil {
				return nil, err
			}
			return g.backend.GetRange(ctx, spreadsheet, sheet, rng)
		}, invoke.Retried(g.cfg.Read, g.log.With(logx.String("range", rng))))
		if err != nil {
			return schema.RawTable{}, fmt.Errorf("read %s!%s: %w", sheet, rng, err)
		}
		blocks = append(blocks, rows)
	}

	grid := joinColumns(blocks)
	if len(grid) == 0 {
		return schema.RawTable{}, fmt.Errorf("read %s!%s: %w", sheet, ranges, ErrEmptyRange)
	}

	out := schema.RawTable{Header: ColumnNames(grid[0])}
	if startingRow-1 < len(grid) {
		out.Rows = grid[startingRow-1:]
	}
	return out, nil
}

// joinColumns concatenates blocks side by side. Each block is padded to its
// own widest row so columns stay aligned; shorter blocks are padded with
// blank rows.
func joinColumns(blocks [][][]string) [][]string {
	height := 0
	widths := make([]int, len(blocks))
	total := 0
	for i, b := range blocks {
		if len(b) > height {
			height = len(b)
		}
		for _, row := range b {
			if len(row) > widths[i] {
				widths[i] = len(row)
			}
		}
		total += widths[i]
	}
	if height == 0 || total == 0 {
		return nil
	}

	out := make([][]string, height)
	for r := range out {
		row := make([]string, 0, total)
		for i, b := range blocks {
			var src []string
			if r < len(b) {
				src = b[r]
			}
			row = append(row, src...)
			for pad := len(src); pad < widths[i]; pad++ {
				row = append(row, "")
			}
		}
		out[r] = row
	}
	return out
}

// AppendRow appends one row to sheet.
func (g *Gateway) AppendRow(ctx context.Context, spreadsheet, sheet string, values []string) error {
	return invoke.Run(ctx, "sheets.append_row", func(ctx context.Context) error {
		if err := g.wait(ctx); err != nil {
			return err
		}
		return g.backend.AppendRow(ctx, spreadsheet, sheet, values)
	}, invoke.Logged(g.log), invoke.Retried(g.cfg.Write, g.log))
}

func (g *Gateway) wait(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	return g.limiter.Wait(ctx)
}
