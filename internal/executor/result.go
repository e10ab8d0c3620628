package executor

import (
	"encoding/json"

	"github.com/psdigitalweb/wb-automation-sub001/pkg/enums"
)

// Result is what a job implementation hands back: either success or a
// coded failure, each carrying whatever stats were collected along the
// way. Failure stats survive so partial progress stays debuggable.
type Result struct {
	ok     bool
	reason enums.FailReason
	stats  map[string]any
}

// OK marks the run successful.
func OK(stats map[string]any) Result {
	return Result{ok: true, stats: stats}
}

// Fail marks the run failed with a closed-set reason code, preserving
// any stats recorded before the failure.
func Fail(reason enums.FailReason, stats map[string]any) Result {
	return Result{ok: false, reason: reason, stats: stats}
}

// IsOK reports whether the job succeeded.
func (r Result) IsOK() bool { return r.ok }

// Reason returns the failure code; zero value for successful results.
func (r Result) Reason() enums.FailReason { return r.reason }

// Stats returns the collected stats map; may be nil.
func (r Result) Stats() map[string]any { return r.stats }

// StatsJSON serializes the stats for storage on the run row.
func (r Result) StatsJSON() json.RawMessage {
	if len(r.stats) == 0 {
		return nil
	}
	data, err := json.Marshal(r.stats)
	if err != nil {
		return nil
	}
	return data
}
