package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/appointment-lifecycle/internal/appointment"
	"github.com/hackgods/appointment-lifecycle/internal/config"
	"github.com/hackgods/appointment-lifecycle/internal/db"
	"github.com/hackgods/appointment-lifecycle/internal/logging"
)

// seed fills a dev database with doctors and patients plus appointments placed
// so that the first scheduler pass has something to expire and remind about.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer logger.Sync()

	logger.Info("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.PoolOptions())
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	s := &seeder{
		pool:   pool,
		faker:  gofakeit.New(uint64(time.Now().UnixNano())),
		logger: logger,
	}
	if err := s.run(ctx, cfg.ExpiryGracePeriod); err != nil {
		logger.Fatal("seed failed", zap.Error(err))
	}

	logger.Info("seed complete")
}

type seeder struct {
	pool   *pgxpool.Pool
	faker  *gofakeit.Faker
	logger *zap.Logger
}

func (s *seeder) run(ctx context.Context, grace time.Duration) error {
	clinics, err := s.copy(ctx, "clinics", []string{"id", "name"}, 3, func(id uuid.UUID) []any {
		return []any{id, s.faker.Company() + " Clinic"}
	})
	if err != nil {
		return err
	}

	doctors, err := s.copy(ctx, "doctors", []string{"id", "name", "specialty"}, 10, func(id uuid.UUID) []any {
		return []any{id, "Dr. " + s.faker.Name(), specialties[s.faker.Number(0, len(specialties)-1)]}
	})
	if err != nil {
		return err
	}

	patients, err := s.copy(ctx, "patients", []string{"id", "name", "email"}, 200, func(id uuid.UUID) []any {
		return []any{id, s.faker.Name(), s.faker.Email()}
	})
	if err != nil {
		return err
	}

	pick := func(ids []uuid.UUID) uuid.UUID {
		return ids[s.faker.Number(0, len(ids)-1)]
	}
	rows := appointmentRows(time.Now().UTC(), placements(grace), func() (uuid.UUID, uuid.UUID, uuid.UUID) {
		return pick(doctors), pick(patients), pick(clinics)
	})

	_, err = s.pool.CopyFrom(ctx,
		pgx.Identifier{"appointments"},
		[]string{"id", "doctor_id", "patient_id", "clinic_id", "appointment_date", "status"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("seed appointments: %w", err)
	}

	s.logger.Info("table seeded", zap.String("table", "appointments"), zap.Int("rows", len(rows)))
	return nil
}

// copy bulk-inserts count fresh rows into table and returns their ids.
func (s *seeder) copy(ctx context.Context, table string, columns []string, count int, row func(id uuid.UUID) []any) ([]uuid.UUID, error) {
	rows := make([][]any, count)
	ids := make([]uuid.UUID, count)
	for i := range rows {
		ids[i] = uuid.New()
		rows[i] = row(ids[i])
	}

	if _, err := s.pool.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows)); err != nil {
		return nil, fmt.Errorf("seed %s: %w", table, err)
	}

	s.logger.Info("table seeded", zap.String("table", table), zap.Int("rows", count))
	return ids, nil
}

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
}

type placement struct {
	offset time.Duration
	status appointment.Status
	count  int
}

// placements puts appointments in every state the jobs act on: overdue,
// inside each reminder window, already expired, and far ahead.
func placements(grace time.Duration) []placement {
	return []placement{
		{-(grace + time.Minute), appointment.StatusScheduled, 10},
		{-(grace + 5*time.Minute), appointment.StatusConfirmed, 10},
		{29 * time.Minute, appointment.StatusConfirmed, 10},
		{9 * time.Minute, appointment.StatusScheduled, 10},
		{-2 * grace, appointment.StatusExpired, 10},
		{72 * time.Hour, appointment.StatusScheduled, 50},
	}
}

func appointmentRows(now time.Time, ps []placement, parties func() (doctor, patient, clinic uuid.UUID)) [][]any {
	var rows [][]any
	for _, p := range ps {
		for i := 0; i < p.count; i++ {
			doctor, patient, clinic := parties()
			rows = append(rows, []any{uuid.New(), doctor, patient, clinic, now.Add(p.offset), string(p.status)})
		}
	}
	return rows
}
