package appointment

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/carelink/appointment-pipeline/internal/event"
	"github.com/carelink/appointment-pipeline/internal/fault"
)

// Processor runs the country stage: re-validate, apply country rules,
// write the processed copy, reserve the slot, advance the tracking
// record and publish onto the bus. Every step is safe to re-run with the
// same input; at-least-once delivery makes replays the steady state.
type Processor struct {
	tracking  TrackingStore
	countries CountryStore
	schedules ScheduleStore
	rules     map[Country]Rules
	bus       event.Publisher
	now       func() time.Time
	log       zerolog.Logger
}

func NewProcessor(tracking TrackingStore, countries CountryStore, schedules ScheduleStore, rules map[Country]Rules, bus event.Publisher, log zerolog.Logger) *Processor {
	return &Processor{
		tracking:  tracking,
		countries: countries,
		schedules: schedules,
		rules:     rules,
		bus:       bus,
		now:       time.Now,
		log:       log.With().Str("component", "processor").Logger(),
	}
}

// Handle consumes one created event. Ordering inside is deliberate:
// country store, then reserve, then tracking transition, then publish:
// a crash between steps leaves state a redelivery can finish.
func (p *Processor) Handle(ctx context.Context, ev event.Event) error {
	appointmentID := ev.Payload["appointmentId"]
	country := Country(ev.Payload["countryISO"])
	if appointmentID == "" || country == "" {
		return fault.Validationf("created event %s missing appointmentId or countryISO", ev.ID)
	}
	scheduleID, err := strconv.ParseInt(ev.Payload["scheduleId"], 10, 64)
	if err != nil {
		return fault.Validationf("created event %s has malformed scheduleId %q", ev.ID, ev.Payload["scheduleId"])
	}

	log := p.log.With().Str("appointment_id", appointmentID).Str("country", string(country)).Logger()

	sched, err := p.schedules.Get(ctx, scheduleID, country)
	if err != nil {
		return err
	}

	appt, err := p.tracking.Get(ctx, appointmentID)
	if err != nil {
		return err
	}

	if appt.Status != StatusPending {
		// Duplicate delivery after a successful run; not an error. A record
		// still at processed may mean the previous run crashed between the
		// transition and the publish, so repeat the publish; the completion
		// stage absorbs the duplicate the same way this branch absorbs
		// intake's.
		if appt.Status == StatusProcessed {
			if err := p.publishProcessed(ctx, appt, appt.UpdatedAt); err != nil {
				return err
			}
		}
		log.Debug().Str("status", string(appt.Status)).Msg("already processed, skipping")
		return nil
	}

	if appt.CountryISO != country {
		return fault.Business(ErrCountryMismatch)
	}

	rules, ok := p.rules[country]
	if !ok {
		return fault.Validation(ErrUnsupportedCountry)
	}
	if err := rules.Apply(ctx, appt, sched); err != nil {
		return err
	}

	now := p.now().UTC()
	rec := CountryRecord{
		AppointmentID: appt.ID,
		InsuredID:     appt.InsuredID,
		ScheduleID:    sched.ID,
		CountryISO:    country,
		CenterID:      sched.CenterID,
		SpecialtyID:   sched.SpecialtyID,
		MedicID:       sched.MedicID,
		Date:          sched.Date,
		Status:        StatusProcessed,
		CreatedAt:     appt.CreatedAt,
		UpdatedAt:     now,
	}
	if err := p.countries.Upsert(ctx, rec); err != nil {
		return err
	}

	if err := p.schedules.Reserve(ctx, sched.ID, country, appt.ID); err != nil {
		return err
	}

	found, err := p.tracking.Transition(ctx, appt.ID, StatusPending, StatusProcessed, now)
	if err != nil {
		return err
	}
	switch found {
	case StatusPending:
		// transition applied
	case StatusProcessed:
		log.Debug().Msg("tracking record already processed")
	default:
		return fault.Businessf("%w: appointment %s is %s", ErrInvalidStatusTransition, appt.ID, found)
	}

	if err := p.publishProcessed(ctx, appt, now); err != nil {
		return err
	}

	log.Info().Msg("appointment processed")
	return nil
}

func (p *Processor) publishProcessed(ctx context.Context, appt *Appointment, at time.Time) error {
	processed := event.New(event.AppointmentProcessed, appt.ID, map[string]string{
		"appointmentId": appt.ID,
		"countryISO":    string(appt.CountryISO),
		"insuredId":     appt.InsuredID,
		"scheduleId":    strconv.FormatInt(appt.ScheduleID, 10),
		"status":        string(StatusProcessed),
		"timestamp":     at.Format(time.RFC3339Nano),
	})
	return p.bus.Publish(ctx, processed)
}
