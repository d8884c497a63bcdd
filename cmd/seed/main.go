package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/appointment-pipeline/internal/appointment"
	"github.com/carelink/appointment-pipeline/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	for _, country := range appointment.SupportedCountries {
		if err := seedSchedules(context.Background(), pool, country, 500); err != nil {
			log.Fatalf("seed schedules %s: %v", country, err)
		}
	}

	log.Println("seed complete")
}

func seedSchedules(ctx context.Context, pool *pgxpool.Pool, country appointment.Country, count int) error {
	log.Printf("seeding %d schedules for %s", count, country)

	const batchSize = 100

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			// slots spread over the next 60 days, working hours only
			date := time.Now().UTC().
				AddDate(0, 0, gofakeit.Number(1, 60)).
				Truncate(24 * time.Hour).
				Add(time.Duration(gofakeit.Number(8, 17)) * time.Hour)

			_, err := tx.Exec(ctx, `
				INSERT INTO schedules (id, country_iso, center_id, specialty_id, medic_id, appointment_date, status, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, 'available', now(), now())
				ON CONFLICT (id, country_iso) DO NOTHING
			`,
				int64(i+1),
				country,
				gofakeit.Number(1, 25),
				gofakeit.Number(1, 40),
				gofakeit.Number(1, 300),
				date,
			)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("%s schedules seeded: %d/%d", country, end, count)
	}

	return nil
}
