package db

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	pgErr := errors.New(`ERROR: duplicate key value violates unique constraint "ux_ingest_runs_single_running" (SQLSTATE 23505)`)
	sqliteErr := errors.New("UNIQUE constraint failed: index 'ux_ingest_runs_single_running'")

	assert.False(t, IsUniqueViolation(nil))
	assert.False(t, IsUniqueViolation(errors.New("connection refused")))

	// Bare form accepts any unique violation from either backend.
	assert.True(t, IsUniqueViolation(pgErr))
	assert.True(t, IsUniqueViolation(sqliteErr))

	// Named form matches only the given constraints.
	assert.True(t, IsUniqueViolation(pgErr, "ux_ingest_runs_single_running"))
	assert.False(t, IsUniqueViolation(pgErr, "ux_schedules_tenant_mp_job"))
	assert.False(t, IsUniqueViolation(errors.New("connection refused"), "ux_ingest_runs_single_running"))
}
