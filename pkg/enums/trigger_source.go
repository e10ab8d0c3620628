package enums

import "fmt"

// TriggerSource records what caused a run to be created.
type TriggerSource string

const (
	TriggerSourceSchedule TriggerSource = "schedule"
	TriggerSourceAPI      TriggerSource = "api"
	TriggerSourceManual   TriggerSource = "manual"
)

var validTriggerSources = []TriggerSource{
	TriggerSourceSchedule,
	TriggerSourceAPI,
	TriggerSourceManual,
}

// IsValid reports whether the value matches the canonical trigger source enum.
func (s TriggerSource) IsValid() bool {
	for _, candidate := range validTriggerSources {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseTriggerSource converts raw input into TriggerSource.
func ParseTriggerSource(value string) (TriggerSource, error) {
	for _, candidate := range validTriggerSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid trigger source %q", value)
}
