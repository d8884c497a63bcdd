package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/appointment-pipeline/internal/fault"
)

// PgCountryStore writes the processed copy into one table per country.
// Table names come from configuration resolved at startup; they are
// interpolated into the SQL because identifiers cannot be bound.
type PgCountryStore struct {
	pool   *pgxpool.Pool
	tables map[Country]string
	order  []Country // scan order for hint-less lookups
}

func NewPgCountryStore(pool *pgxpool.Pool, tables map[Country]string) *PgCountryStore {
	order := make([]Country, 0, len(tables))
	for _, c := range SupportedCountries {
		if _, ok := tables[c]; ok {
			order = append(order, c)
		}
	}
	return &PgCountryStore{pool: pool, tables: tables, order: order}
}

const countryColumns = `appointment_id, insured_id, schedule_id, country_iso, center_id, specialty_id, medic_id, appointment_date, status, created_at, updated_at`

func (s *PgCountryStore) table(c Country) (string, error) {
	t, ok := s.tables[c]
	if !ok {
		return "", fault.Validation(ErrUnsupportedCountry)
	}
	return t, nil
}

func (s *PgCountryStore) Upsert(ctx context.Context, rec CountryRecord) error {
	table, err := s.table(rec.CountryISO)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (appointment_id) DO UPDATE SET
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`, table, countryColumns),
		rec.AppointmentID, rec.InsuredID, rec.ScheduleID, rec.CountryISO,
		rec.CenterID, rec.SpecialtyID, rec.MedicID, rec.Date,
		rec.Status, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fault.Infraf("upsert into %s: %w", table, err)
	}
	return nil
}

func (s *PgCountryStore) GetByAppointmentID(ctx context.Context, id string, hint Country) (*CountryRecord, error) {
	countries := s.order
	if hint != "" {
		countries = []Country{hint}
	}

	for _, c := range countries {
		table, err := s.table(c)
		if err != nil {
			return nil, err
		}

		row := s.pool.QueryRow(ctx, fmt.Sprintf(`
			SELECT %s FROM %s WHERE appointment_id = $1
		`, countryColumns, table), id)

		rec, err := scanCountryRecord(row)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				continue
			}
			return nil, err
		}
		return rec, nil
	}

	return nil, fault.Business(ErrAppointmentNotFound)
}

func (s *PgCountryStore) ListByInsured(ctx context.Context, insuredID string) ([]CountryRecord, error) {
	var out []CountryRecord

	for _, c := range s.order {
		table, err := s.table(c)
		if err != nil {
			return nil, err
		}

		rows, err := s.pool.Query(ctx, fmt.Sprintf(`
			SELECT %s FROM %s WHERE insured_id = $1 ORDER BY created_at DESC
		`, countryColumns, table), insuredID)
		if err != nil {
			return nil, fault.Infraf("list from %s: %w", table, err)
		}

		for rows.Next() {
			rec, err := scanCountryRecord(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out = append(out, *rec)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fault.Infraf("list from %s: %w", table, err)
		}
		rows.Close()
	}

	return out, nil
}

func scanCountryRecord(row pgx.Row) (*CountryRecord, error) {
	var rec CountryRecord

	err := row.Scan(
		&rec.AppointmentID,
		&rec.InsuredID,
		&rec.ScheduleID,
		&rec.CountryISO,
		&rec.CenterID,
		&rec.SpecialtyID,
		&rec.MedicID,
		&rec.Date,
		&rec.Status,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fault.Infraf("scan country record: %w", err)
	}

	return &rec, nil
}

var _ CountryStore = (*PgCountryStore)(nil)
