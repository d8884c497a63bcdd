package appointment

import (
	"context"
	"time"

	"github.com/carelink/appointment-pipeline/internal/fault"
)

// Rules is the per-country hook run during processing. Country-specific
// external checks (insurer eligibility, local regulation) plug in here;
// adding a country is a new map entry, not a new pipeline.
type Rules interface {
	Apply(ctx context.Context, appt *Appointment, sched *Schedule) error
}

// RulesFunc adapts a function to the Rules interface.
type RulesFunc func(ctx context.Context, appt *Appointment, sched *Schedule) error

func (f RulesFunc) Apply(ctx context.Context, appt *Appointment, sched *Schedule) error {
	return f(ctx, appt, sched)
}

// DefaultRules returns the rule set for the supported countries.
func DefaultRules(now func() time.Time) map[Country]Rules {
	return map[Country]Rules{
		CountryPE: RulesFunc(func(ctx context.Context, appt *Appointment, sched *Schedule) error {
			return requireFutureSlot(now(), sched)
		}),
		CountryCL: RulesFunc(func(ctx context.Context, appt *Appointment, sched *Schedule) error {
			return requireFutureSlot(now(), sched)
		}),
	}
}

func requireFutureSlot(now time.Time, sched *Schedule) error {
	if !sched.Date.After(now) {
		return fault.Businessf("schedule %d is in the past", sched.ID)
	}
	return nil
}
