package enums

import "fmt"

// EventScope records the aggregation level an event belongs to. Events whose
// product id resolved to an internal SKU are sku-scoped; the rest attach to
// the marketplace or the whole project.
type EventScope string

const (
	EventScopeSku         EventScope = "sku"
	EventScopeMarketplace EventScope = "marketplace"
	EventScopeProject     EventScope = "project"
)

var validEventScopes = []EventScope{
	EventScopeSku,
	EventScopeMarketplace,
	EventScopeProject,
}

// IsValid reports whether the value matches the canonical event scope enum.
func (s EventScope) IsValid() bool {
	for _, candidate := range validEventScopes {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseEventScope converts raw input into EventScope.
func ParseEventScope(value string) (EventScope, error) {
	for _, candidate := range validEventScopes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event scope %q", value)
}
