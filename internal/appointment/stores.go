package appointment

import (
	"context"
	"time"
)

// TrackingStore is the authoritative key-value record of an appointment's
// lifecycle. All writes are conditional; that is the pipeline's only
// concurrency-control primitive.
type TrackingStore interface {
	// CreatePending persists a new pending record. When a record with the
	// same id already exists and is still pending, the existing record is
	// returned with created=false (duplicate intake is idempotent). A
	// record in a later state returns ErrDuplicateAppointment.
	CreatePending(ctx context.Context, appt Appointment) (out *Appointment, created bool, err error)

	Get(ctx context.Context, id string) (*Appointment, error)

	// Transition advances the record from one status to the next only if
	// it currently holds from. The status actually found is returned so
	// callers can tell an idempotent replay from a real conflict.
	Transition(ctx context.Context, id string, from, to Status, at time.Time) (found Status, err error)

	// ListByInsured returns records for one insured person, newest first.
	ListByInsured(ctx context.Context, insuredID string, limit, offset int) ([]Appointment, error)
}

// CountryStore is the per-country relational copy written once country
// processing succeeds.
type CountryStore interface {
	// Upsert inserts or replaces the record keyed by appointment id.
	Upsert(ctx context.Context, rec CountryRecord) error

	// GetByAppointmentID resolves a record. With an empty hint every
	// country table is scanned in order and the first hit wins.
	GetByAppointmentID(ctx context.Context, id string, hint Country) (*CountryRecord, error)

	// ListByInsured returns records for one insured person across all
	// country tables.
	ListByInsured(ctx context.Context, insuredID string) ([]CountryRecord, error)
}

// ScheduleStore holds the bookable slots per country.
type ScheduleStore interface {
	Get(ctx context.Context, scheduleID int64, country Country) (*Schedule, error)

	// Reserve flips the slot available -> reserved for appointmentID.
	// Re-reserving for the same appointment succeeds (redelivery steady
	// state); a slot held by another appointment is ErrScheduleConflict.
	Reserve(ctx context.Context, scheduleID int64, country Country, appointmentID string) error
}
