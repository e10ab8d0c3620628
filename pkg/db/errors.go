package db

import "strings"

// IsUniqueViolation reports whether the error is a unique violation, on
// Postgres or on the sqlite backend used in tests. Optional constraint
// names narrow the match to specific constraints where the backend names
// them in the message (Postgres always does; sqlite names raw-SQL indexes
// but not table constraints).
func IsUniqueViolation(err error, constraintNames ...string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if !strings.Contains(msg, "duplicate key value") &&
		!strings.Contains(msg, "UNIQUE constraint failed") {
		return false
	}
	if len(constraintNames) == 0 {
		return true
	}
	for _, name := range constraintNames {
		if strings.Contains(msg, name) {
			return true
		}
	}
	return false
}
