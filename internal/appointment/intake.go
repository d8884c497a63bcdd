package appointment

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/appointment-pipeline/internal/event"
	"github.com/carelink/appointment-pipeline/internal/fault"
)

// IntakeRequest is a validated booking request. AppointmentID is an
// optional client-supplied idempotency key; left empty, one is generated.
type IntakeRequest struct {
	AppointmentID string
	InsuredID     string
	CountryISO    Country
	ScheduleID    int64
}

// Intake validates a booking, writes the pending record and emits the
// created event addressed to the appointment's country.
type Intake struct {
	tracking  TrackingStore
	schedules ScheduleStore
	publisher event.CountryPublisher
	now       func() time.Time
	log       zerolog.Logger
}

func NewIntake(tracking TrackingStore, schedules ScheduleStore, publisher event.CountryPublisher, log zerolog.Logger) *Intake {
	return &Intake{
		tracking:  tracking,
		schedules: schedules,
		publisher: publisher,
		now:       time.Now,
		log:       log.With().Str("component", "intake").Logger(),
	}
}

// Book runs the intake stage. The record is persisted before the event
// publishes so any consumer reacting to the event can find the row.
func (i *Intake) Book(ctx context.Context, req IntakeRequest) (*Appointment, error) {
	if !ValidInsuredID(req.InsuredID) {
		return nil, fault.Validation(ErrInvalidInsuredID)
	}
	if !req.CountryISO.Supported() {
		return nil, fault.Validation(ErrUnsupportedCountry)
	}

	sched, err := i.schedules.Get(ctx, req.ScheduleID, req.CountryISO)
	if err != nil {
		return nil, err
	}

	id := req.AppointmentID
	if id == "" {
		id = uuid.NewString()
	}

	now := i.now().UTC()
	appt := Appointment{
		ID:         id,
		InsuredID:  req.InsuredID,
		CountryISO: req.CountryISO,
		ScheduleID: sched.ID,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
		Schedule: ScheduleDetail{
			CenterID:    sched.CenterID,
			SpecialtyID: sched.SpecialtyID,
			MedicID:     sched.MedicID,
			Date:        sched.Date,
		},
	}

	stored, created, err := i.tracking.CreatePending(ctx, appt)
	if err != nil {
		return nil, err
	}
	if !created {
		i.log.Info().Str("appointment_id", stored.ID).Msg("duplicate intake, record still pending")
	}

	// Published even on a duplicate: it repairs the crash window between
	// persist and publish, and the processor skips non-pending records.
	ev := event.New(event.AppointmentCreated, stored.ID, map[string]string{
		"appointmentId": stored.ID,
		"countryISO":    string(stored.CountryISO),
		"insuredId":     stored.InsuredID,
		"scheduleId":    strconv.FormatInt(stored.ScheduleID, 10),
		"eventType":     event.AppointmentCreated,
		"timestamp":     now.Format(time.RFC3339Nano),
	})
	if err := i.publisher.PublishTo(ctx, string(stored.CountryISO), ev); err != nil {
		// the row exists; retrying with the same appointment id will
		// republish without re-creating
		return nil, err
	}

	i.log.Info().Str("appointment_id", stored.ID).Str("country", string(stored.CountryISO)).Msg("appointment created")
	return stored, nil
}
