package manager

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/loykin/corelauncher/internal/role"
)

// Result is the outcome of one stage of a bulk operation.
type Result string

const (
	ResultOK      Result = "ok"
	ResultSkipped Result = "skipped"
	ResultFailed  Result = "failed"
)

// Outcome describes what happened to one role during a bulk operation.
type Outcome struct {
	Role   role.Role `json:"role"`
	Action string    `json:"action"`
	Result Result    `json:"result"`
	Error  string    `json:"error,omitempty"`
}

// Report is the result of StartAll, StopAll or RestartAll.
//
// Bulk operations are best-effort: a failed stage is recorded and the
// sequence continues. OK therefore only means every stage was attempted;
// inspect Outcomes or Err for per-role failures.
type Report struct {
	ID         string    `json:"id"`
	Op         string    `json:"op"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcomes   []Outcome `json:"outcomes"`
	Aborted    bool      `json:"aborted,omitempty"`

	errs *multierror.Error
}

func newReport(op string) *Report {
	return &Report{ID: uuid.NewString(), Op: op, StartedAt: time.Now()}
}

func (r *Report) add(ro role.Role, action string, err error) {
	o := Outcome{Role: ro, Action: action, Result: ResultOK}
	if err != nil {
		o.Result = ResultFailed
		o.Error = err.Error()
		r.errs = multierror.Append(r.errs, fmt.Errorf("%s %s: %w", action, ro, err))
	}
	r.Outcomes = append(r.Outcomes, o)
}

func (r *Report) skip(ro role.Role, action string) {
	r.Outcomes = append(r.Outcomes, Outcome{Role: ro, Action: action, Result: ResultSkipped})
}

// OK reports whether every stage was attempted. Failed stages do not count.
func (r *Report) OK() bool { return !r.Aborted }

// Err returns the aggregated stage errors, or nil.
func (r *Report) Err() error { return r.errs.ErrorOrNil() }

// Failed returns the outcomes that did not succeed.
func (r *Report) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Result == ResultFailed {
			out = append(out, o)
		}
	}
	return out
}
