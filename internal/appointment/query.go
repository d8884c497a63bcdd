package appointment

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/carelink/appointment-pipeline/internal/fault"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// NormalizePage clamps a requested page to what a list query actually
// applies: missing or non-positive limits fall back to the default,
// oversized ones are capped, negative offsets become zero.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// Query reads both stores and merges the results. A failing source is
// logged and contributes nothing; partial results beat total failure.
type Query struct {
	tracking  TrackingStore
	countries CountryStore
	log       zerolog.Logger
}

func NewQuery(tracking TrackingStore, countries CountryStore, log zerolog.Logger) *Query {
	return &Query{
		tracking:  tracking,
		countries: countries,
		log:       log.With().Str("component", "query").Logger(),
	}
}

// ListByInsured returns the merged appointment history for one insured
// person: de-duplicated by appointment id keeping the fresher record,
// sorted by creation time descending, paginated.
func (q *Query) ListByInsured(ctx context.Context, insuredID string, limit, offset int) ([]Appointment, error) {
	if !ValidInsuredID(insuredID) {
		return nil, fault.Validation(ErrInvalidInsuredID)
	}
	limit, offset = NormalizePage(limit, offset)

	var (
		wg       sync.WaitGroup
		primary  []Appointment
		copies   []CountryRecord
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		// the tracking store is paginated at the source; over-fetch so
		// the merge still has enough rows after de-duplication
		rows, err := q.tracking.ListByInsured(ctx, insuredID, offset+limit, 0)
		if err != nil {
			q.log.Error().Err(err).Str("insured_id", insuredID).Msg("tracking store query failed, degrading")
			return
		}
		primary = rows
	}()
	go func() {
		defer wg.Done()
		rows, err := q.countries.ListByInsured(ctx, insuredID)
		if err != nil {
			q.log.Error().Err(err).Str("insured_id", insuredID).Msg("country store query failed, degrading")
			return
		}
		copies = rows
	}()
	wg.Wait()

	merged := mergeResults(primary, copies)

	if offset >= len(merged) {
		return nil, nil
	}
	end := offset + limit
	if end > len(merged) {
		end = len(merged)
	}
	return merged[offset:end], nil
}

// GetByID resolves one appointment, preferring the tracking store and
// falling back to the country tables. An empty hint scans every table.
func (q *Query) GetByID(ctx context.Context, id string, hint Country) (*Appointment, error) {
	appt, err := q.tracking.Get(ctx, id)
	if err == nil {
		return appt, nil
	}
	if fault.KindOf(err) == fault.KindInfrastructure {
		q.log.Error().Err(err).Str("appointment_id", id).Msg("tracking store lookup failed, falling back")
	}

	rec, recErr := q.countries.GetByAppointmentID(ctx, id, hint)
	if recErr != nil {
		return nil, recErr
	}
	appt = recordToAppointment(*rec)
	return appt, nil
}

// mergeResults keeps one entry per appointment id, the one with the
// latest updated-at, and orders by created-at descending.
func mergeResults(primary []Appointment, copies []CountryRecord) []Appointment {
	byID := make(map[string]Appointment, len(primary)+len(copies))

	for _, a := range primary {
		byID[a.ID] = a
	}
	for _, rec := range copies {
		candidate := recordToAppointment(rec)
		if existing, ok := byID[rec.AppointmentID]; ok && !candidate.UpdatedAt.After(existing.UpdatedAt) {
			continue
		}
		byID[rec.AppointmentID] = *candidate
	}

	merged := make([]Appointment, 0, len(byID))
	for _, a := range byID {
		merged = append(merged, a)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].CreatedAt.Equal(merged[j].CreatedAt) {
			return merged[i].ID < merged[j].ID
		}
		return merged[i].CreatedAt.After(merged[j].CreatedAt)
	})
	return merged
}

func recordToAppointment(rec CountryRecord) *Appointment {
	return &Appointment{
		ID:         rec.AppointmentID,
		InsuredID:  rec.InsuredID,
		CountryISO: rec.CountryISO,
		ScheduleID: rec.ScheduleID,
		Status:     rec.Status,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
		Schedule: ScheduleDetail{
			CenterID:    rec.CenterID,
			SpecialtyID: rec.SpecialtyID,
			MedicID:     rec.MedicID,
			Date:        rec.Date,
		},
	}
}
