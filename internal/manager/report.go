package manager

import (
	"fmt"
	"strings"
	"time"

	"sheetload/internal/jobs"
)

// Status is a job's terminal state in the run log.
type Status string

const (
	StatusSuccess      Status = "SUCCESS"
	StatusFail         Status = "FAIL"
	StatusNotScheduled Status = "NOT_SCHEDULED"
	// StatusScheduled is reported by dry runs for jobs that would run.
	StatusScheduled Status = "SCHEDULED"
)

type Outcome struct {
	Job     jobs.Definition
	Status  Status
	Elapsed time.Duration
	Err     error
}

// Row is the log-sheet row for the outcome:
// job_name, gs, sheet, range, table, status[, elapsed_seconds].
func (o Outcome) Row() []string {
	row := []string{o.Job.Name, o.Job.URL, o.Job.Sheet, o.Job.Range, o.Job.Table, string(o.Status)}
	if o.Status == StatusSuccess || o.Status == StatusFail {
		row = append(row, fmt.Sprintf("%.3f", o.Elapsed.Seconds()))
	}
	return row
}

// Report summarizes one run.
type Report struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Outcomes []Outcome
	Counts   map[Status]int

	// Aborted is set when the job table failed to load or validate; Reason
	// holds the messages written to the log.
	Aborted bool
	Reason  string

	LogFailures int
}

func (r *Report) add(o Outcome) {
	if r.Counts == nil {
		r.Counts = make(map[Status]int)
	}
	r.Counts[o.Status]++
	r.Outcomes = append(r.Outcomes, o)
}

func (r Report) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status == StatusFail {
			out = append(out, o)
		}
	}
	return out
}

func (r Report) Statuses() []Status {
	out := make([]Status, len(r.Outcomes))
	for i, o := range r.Outcomes {
		out[i] = o.Status
	}
	return out
}

func (r Report) String() string {
	if r.Aborted {
		return fmt.Sprintf("run %s aborted: %s", r.RunID, r.Reason)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %d jobs", r.RunID, len(r.Outcomes))
	for _, s := range []Status{StatusSuccess, StatusFail, StatusNotScheduled, StatusScheduled} {
		if n := r.Counts[s]; n > 0 {
			fmt.Fprintf(&b, ", %d %s", n, s)
		}
	}
	return b.String()
}
