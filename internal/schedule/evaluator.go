package schedule

import (
	"time"

	"github.com/robfig/cron/v3"

	pkgerrors "github.com/psdigitalweb/wb-automation-sub001/pkg/errors"
)

// cronParser accepts standard 5-field expressions (minute, hour,
// day-of-month, month, day-of-week).
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Evaluator computes next fire times for cron expressions. It holds no
// state; the struct exists so services can take it as a dependency.
type Evaluator struct{}

// NewEvaluator returns a cron evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Next returns the first fire time strictly after ref, evaluated in the
// schedule's timezone and returned in UTC. DST transitions resolve in
// local time before converting back.
func (e *Evaluator) Next(cronExpr, timezone string, ref time.Time) (time.Time, error) {
	spec, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cron expression")
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown timezone")
	}
	return spec.Next(ref.In(loc)).UTC(), nil
}

// Validate checks expression and timezone without computing anything.
// Schedule writes call this so bad input fails at creation time, not at
// dispatch time.
func (e *Evaluator) Validate(cronExpr, timezone string) error {
	_, err := e.Next(cronExpr, timezone, time.Now())
	return err
}
