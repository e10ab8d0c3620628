package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/psdigitalweb/wb-automation-sub001/pkg/errors"
)

func TestEvaluatorNextEveryFourHours(t *testing.T) {
	eval := NewEvaluator()

	ref := time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC)
	next, err := eval.Next("0 */4 * * *", "UTC", ref)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 1, 1, 4, 0, 0, 0, time.UTC), next)
}

func TestEvaluatorNextHonorsTimezone(t *testing.T) {
	eval := NewEvaluator()

	// Daily 09:00 Moscow time (UTC+3, no DST) is 06:00 UTC.
	ref := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	next, err := eval.Next("0 9 * * *", "Europe/Moscow", ref)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC), next)
	assert.Equal(t, time.UTC, next.Location())
}

func TestEvaluatorNextStrictlyAfterRef(t *testing.T) {
	eval := NewEvaluator()

	ref := time.Date(2024, 1, 1, 4, 0, 0, 0, time.UTC)
	next, err := eval.Next("0 */4 * * *", "UTC", ref)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC), next)
}

func TestEvaluatorRejectsBadExpression(t *testing.T) {
	eval := NewEvaluator()

	_, err := eval.Next("not a cron", "UTC", time.Now())
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestEvaluatorRejectsUnknownTimezone(t *testing.T) {
	eval := NewEvaluator()

	_, err := eval.Next("* * * * *", "Mars/Olympus", time.Now())
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestEvaluatorValidate(t *testing.T) {
	eval := NewEvaluator()

	assert.NoError(t, eval.Validate("*/5 * * * *", "Europe/Moscow"))
	assert.Error(t, eval.Validate("61 * * * *", "UTC"))
	assert.Error(t, eval.Validate("* * * * *", "Nowhere"))
}
