package enums

import "fmt"

// RunStatus maps to the run_status enum in Postgres.
type RunStatus string

const (
	RunStatusQueued  RunStatus = "queued"
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
	RunStatusSkipped RunStatus = "skipped"
	RunStatusTimeout RunStatus = "timeout"
)

var validRunStatuses = []RunStatus{
	RunStatusQueued,
	RunStatusRunning,
	RunStatusSuccess,
	RunStatusFailed,
	RunStatusSkipped,
	RunStatusTimeout,
}

// IsValid reports whether the value matches the canonical run status enum.
func (s RunStatus) IsValid() bool {
	for _, candidate := range validRunStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed from s.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSuccess, RunStatusFailed, RunStatusSkipped, RunStatusTimeout:
		return true
	}
	return false
}

// ParseRunStatus converts raw input into RunStatus.
func ParseRunStatus(value string) (RunStatus, error) {
	for _, candidate := range validRunStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid run status %q", value)
}
