package enums

import "fmt"

// FailReason is the closed set of reason codes a job implementation may
// report when it finishes unsuccessfully without raising an error.
type FailReason string

const (
	FailReasonUpstreamError FailReason = "upstream_error"
	FailReasonTimeout       FailReason = "timeout"
	FailReasonPartialData   FailReason = "partial_data"
	FailReasonValidation    FailReason = "validation"
)

var validFailReasons = []FailReason{
	FailReasonUpstreamError,
	FailReasonTimeout,
	FailReasonPartialData,
	FailReasonValidation,
}

// IsValid reports whether the value matches the canonical fail reason enum.
func (r FailReason) IsValid() bool {
	for _, candidate := range validFailReasons {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseFailReason converts raw input into FailReason.
func ParseFailReason(value string) (FailReason, error) {
	for _, candidate := range validFailReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid fail reason %q", value)
}
