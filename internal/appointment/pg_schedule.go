package appointment

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/appointment-pipeline/internal/fault"
)

// PgScheduleStore reads and reserves bookable slots. Reservation is a
// conditional state transition, not a counter: at most one appointment
// ever holds a schedule id.
type PgScheduleStore struct {
	pool *pgxpool.Pool
}

func NewPgScheduleStore(pool *pgxpool.Pool) *PgScheduleStore {
	return &PgScheduleStore{pool: pool}
}

func (s *PgScheduleStore) Get(ctx context.Context, scheduleID int64, country Country) (*Schedule, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, country_iso, center_id, specialty_id, medic_id, appointment_date, status, reserved_by
		FROM schedules
		WHERE id = $1 AND country_iso = $2
	`, scheduleID, country)

	return scanSchedule(row)
}

// Reserve succeeds when the slot is still available or already held by
// this same appointment (the redelivery steady state).
func (s *PgScheduleStore) Reserve(ctx context.Context, scheduleID int64, country Country, appointmentID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE schedules
		SET status = 'reserved',
		    reserved_by = $3,
		    updated_at = now()
		WHERE id = $1
		  AND country_iso = $2
		  AND (status = 'available' OR reserved_by = $3)
	`, scheduleID, country, appointmentID)
	if err != nil {
		return fault.Infraf("reserve schedule %d: %w", scheduleID, err)
	}

	if tag.RowsAffected() == 0 {
		// either the slot does not exist or someone else holds it
		if _, err := s.Get(ctx, scheduleID, country); err != nil {
			return err
		}
		return fault.Business(ErrScheduleConflict)
	}
	return nil
}

func scanSchedule(row pgx.Row) (*Schedule, error) {
	var sc Schedule
	var reservedBy *string

	err := row.Scan(
		&sc.ID,
		&sc.CountryISO,
		&sc.CenterID,
		&sc.SpecialtyID,
		&sc.MedicID,
		&sc.Date,
		&sc.Status,
		&reservedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.Business(ErrScheduleNotFound)
		}
		return nil, fault.Infraf("scan schedule: %w", err)
	}

	sc.ReservedBy = reservedBy
	return &sc, nil
}

var _ ScheduleStore = (*PgScheduleStore)(nil)
