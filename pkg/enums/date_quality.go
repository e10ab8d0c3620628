package enums

import "fmt"

// DateQuality tags how a financial event's date was determined, so downstream
// consumers can judge precision.
type DateQuality string

const (
	DateQualityExact    DateQuality = "exact"
	DateQualityDerived  DateQuality = "derived"
	DateQualityFallback DateQuality = "fallback"
)

var validDateQualities = []DateQuality{
	DateQualityExact,
	DateQualityDerived,
	DateQualityFallback,
}

// IsValid reports whether the value matches the canonical date quality enum.
func (q DateQuality) IsValid() bool {
	for _, candidate := range validDateQualities {
		if candidate == q {
			return true
		}
	}
	return false
}

// ParseDateQuality converts raw input into DateQuality.
func ParseDateQuality(value string) (DateQuality, error) {
	for _, candidate := range validDateQualities {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid date quality %q", value)
}
