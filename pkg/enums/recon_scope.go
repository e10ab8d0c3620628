package enums

import "fmt"

// ReconScope states what a reconciliation record compares totals over.
type ReconScope string

const (
	ReconScopeReport ReconScope = "report"
	ReconScopePeriod ReconScope = "period"
)

var validReconScopes = []ReconScope{
	ReconScopeReport,
	ReconScopePeriod,
}

// IsValid reports whether the value matches the canonical recon scope enum.
func (s ReconScope) IsValid() bool {
	for _, candidate := range validReconScopes {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseReconScope converts raw input into ReconScope.
func ParseReconScope(value string) (ReconScope, error) {
	for _, candidate := range validReconScopes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid recon scope %q", value)
}
