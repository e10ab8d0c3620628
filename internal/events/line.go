package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RawLine is one report line as delivered by the ingestion-fetch layer.
// Payload may arrive pre-parsed or as a string-encoded JSON object.
type RawLine struct {
	ReportID    string
	LineID      string
	RowPK       int64
	Payload     json.RawMessage
	PayloadHash string
	FetchedAt   time.Time
	PeriodFrom  *time.Time
	PeriodTo    *time.Time
}

// LineKey returns the line's stable identity: the upstream id when one
// exists, otherwise the surrogate "{report_id}:{row_pk}".
func (l RawLine) LineKey() string {
	if l.LineID != "" {
		return l.LineID
	}
	return fmt.Sprintf("%s:%d", l.ReportID, l.RowPK)
}

// RawLineSource supplies raw report lines whose parent report's period
// overlaps the requested range.
type RawLineSource interface {
	FetchRange(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]RawLine, error)
}

// SkuResolver maps marketplace product ids to internal SKUs in bulk, one
// lookup per build run. A nil entry means the product is unknown.
type SkuResolver interface {
	ResolveSkus(ctx context.Context, tenantID uuid.UUID, productIDs []int64) (map[int64]*uuid.UUID, error)
}

// payload is the parsed line body with case-tolerant field access.
type payload map[string]any

// parsePayload tolerates both raw JSON objects and string-encoded JSON.
func parsePayload(raw json.RawMessage) (payload, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil, fmt.Errorf("empty payload")
	}
	if trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("unquoting payload: %w", err)
		}
		trimmed = inner
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(trimmed), &body); err != nil {
		return nil, fmt.Errorf("parsing payload: %w", err)
	}
	return payload(body), nil
}

// lookup returns the first present field among the names.
func (p payload) lookup(names ...string) (any, string, bool) {
	for _, name := range names {
		if value, ok := p[name]; ok && value != nil {
			return value, name, true
		}
	}
	return nil, "", false
}

// str returns the first present field coerced to string.
func (p payload) str(names ...string) string {
	value, _, ok := p.lookup(names...)
	if !ok {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return fmt.Sprint(value)
}

// date parses the first present field as a timestamp. Upstream mixes
// "2006-01-02T15:04:05Z" and bare "2006-01-02".
func (p payload) date(names ...string) (time.Time, bool) {
	raw := p.str(names...)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}

// amount parses the first present field as a decimal. Zero and absent are
// both reported as not-found: a zero money field produces no event.
func (p payload) amount(names ...string) (decimal.Decimal, string, bool) {
	value, field, ok := p.lookup(names...)
	if !ok {
		return decimal.Zero, "", false
	}
	parsed, ok := toDecimal(value)
	if !ok || parsed.IsZero() {
		return decimal.Zero, "", false
	}
	return parsed, field, true
}

// integer parses the first present field as an int64.
func (p payload) integer(names ...string) (int64, bool) {
	value, _, ok := p.lookup(names...)
	if !ok {
		return 0, false
	}
	switch v := value.(type) {
	case float64:
		return int64(v), true
	case string:
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

func toDecimal(value any) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case float64:
		return decimal.NewFromFloat(v), true
	case string:
		parsed, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Zero, false
		}
		return parsed, true
	case json.Number:
		parsed, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.Zero, false
		}
		return parsed, true
	}
	return decimal.Zero, false
}
