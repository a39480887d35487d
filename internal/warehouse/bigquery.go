package warehouse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"

	"sheetload/internal/gcp"
	"sheetload/internal/retry"
	"sheetload/internal/schema"
	logx "sheetload/pkg/logx"
)

const timestampLayout = "2006-01-02 15:04:05.999999"

// BigQuery loads chunks as newline-delimited JSON load jobs.
type BigQuery struct {
	client   *bigquery.Client
	project  string
	location string
	log      logx.Logger
}

func NewBigQuery(ctx context.Context, cfg StoreConfig, creds *google.Credentials, log logx.Logger) (*BigQuery, error) {
	project := strings.TrimSpace(cfg.Project)
	if project == "" {
		project = creds.ProjectID
	}
	if project == "" {
		return nil, errors.New("bigquery project is required")
	}
	client, err := bigquery.NewClient(ctx, project, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("bigquery client: %w", err)
	}
	if cfg.Location != "" {
		client.Location = cfg.Location
	}
	return &BigQuery{client: client, project: project, location: cfg.Location, log: log}, nil
}

func (b *BigQuery) Close() error { return b.client.Close() }

// table resolves "dataset.table" or "project.dataset.table".
func (b *BigQuery) table(name string) (*bigquery.Table, error) {
	parts := strings.Split(strings.TrimSpace(name), ".")
	for _, p := range parts {
		if p == "" {
			return nil, retry.Permanent(fmt.Errorf("invalid table name %q", name))
		}
	}
	switch len(parts) {
	case 2:
		return b.client.DatasetInProject(b.project, parts[0]).Table(parts[1]), nil
	case 3:
		return b.client.DatasetInProject(parts[0], parts[1]).Table(parts[2]), nil
	default:
		return nil, retry.Permanent(fmt.Errorf("invalid table name %q: want dataset.table", name))
	}
}

func (b *BigQuery) DeleteTable(ctx context.Context, name string) error {
	t, err := b.table(name)
	if err != nil {
		return err
	}
	if err := t.Delete(ctx); err != nil {
		if gcp.IsNotFound(err) {
			return ErrNotFound
		}
		return gcp.Classify(err)
	}
	return nil
}

func (b *BigQuery) StartLoad(ctx context.Context, req LoadRequest) (Job, error) {
	t, err := b.table(req.Table)
	if err != nil {
		return nil, err
	}
	body, err := encodeNDJSON(req.Data)
	if err != nil {
		return nil, retry.Permanent(err)
	}

	src := bigquery.NewReaderSource(bytes.NewReader(body))
	src.SourceFormat = bigquery.JSON
	// Column types were settled for the whole table by inference, so every
	// chunk carries the same schema. Detection on each chunk could pick
	// INTEGER for one and FLOAT for the next.
	src.Schema = bigQuerySchema(req.Data.Columns, req.Hints)
	if len(src.Schema) == 0 {
		src.AutoDetect = req.Autodetect
	}

	loader := t.LoaderFrom(src)
	loader.CreateDisposition = bigquery.CreateIfNeeded
	loader.WriteDisposition = bigquery.WriteAppend
	if req.AllowFieldAddition {
		loader.SchemaUpdateOptions = []string{"ALLOW_FIELD_ADDITION"}
	}

	job, err := loader.Run(ctx)
	if err != nil {
		return nil, classifyBigQuery(err)
	}
	return bqJob{job: job}, nil
}

type bqJob struct {
	job *bigquery.Job
}

func (j bqJob) ID() string { return j.job.ID() }

func (j bqJob) Wait(ctx context.Context) error {
	status, err := j.job.Wait(ctx)
	if err != nil {
		return classifyBigQuery(err)
	}
	if err := status.Err(); err != nil {
		return classifyBigQuery(err)
	}
	return nil
}

// classifyBigQuery extends gcp.Classify with job-level error reasons.
func classifyBigQuery(err error) error {
	var be *bigquery.Error
	if errors.As(err, &be) && gcp.IsRateReason(be.Reason) {
		return retry.Transient(err)
	}
	return gcp.Classify(err)
}

func bigQuerySchema(cols []schema.Column, hints []schema.Field) bigquery.Schema {
	hinted := make(map[string]schema.Type, len(hints))
	for _, h := range hints {
		hinted[h.Name] = h.Type
	}
	out := make(bigquery.Schema, 0, len(cols))
	for _, c := range cols {
		typ := c.Type
		if h, ok := hinted[c.Name]; ok {
			typ = h
		}
		fs := &bigquery.FieldSchema{Name: c.Name, Type: bigquery.StringFieldType}
		switch typ {
		case schema.Numeric:
			fs.Type = bigquery.FloatFieldType
			if c.Integral {
				fs.Type = bigquery.IntegerFieldType
			}
		case schema.Date:
			fs.Type = bigquery.DateFieldType
			if c.Clock {
				fs.Type = bigquery.TimestampFieldType
			}
		}
		out = append(out, fs)
	}
	return out
}

func encodeNDJSON(t schema.TypedTable) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	rec := make(map[string]any, len(t.Columns))
	for _, row := range t.Rows {
		clear(rec)
		for i, c := range t.Columns {
			if i >= len(row) {
				continue
			}
			if v := jsonValue(c, row[i]); v != nil {
				rec[c.Name] = v
			}
		}
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("encode row: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// jsonValue renders v in the type of column c. Whole numbers in a FLOAT
// column keep a decimal point and DATE columns with a time of day are
// always timestamps. Non-finite floats become NULL.
func jsonValue(c schema.Column, v any) any {
	switch x := v.(type) {
	case time.Time:
		if c.Clock {
			return x.UTC().Format(timestampLayout)
		}
		return x.UTC().Format(time.DateOnly)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		if !c.Integral {
			s := strconv.FormatFloat(x, 'g', -1, 64)
			if !strings.ContainsAny(s, ".eE") {
				s += ".0"
			}
			return json.Number(s)
		}
	}
	return v
}
