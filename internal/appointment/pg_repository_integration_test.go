//go:build integration

package appointment_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/appointment-lifecycle/internal/appointment"
	"github.com/hackgods/appointment-lifecycle/internal/db"
)

// Run with: POSTGRES_TEST_DSN=postgres://... go test -tags integration ./internal/appointment/
func newPgRepository(t *testing.T) (*appointment.PgRepository, *pgxpool.Pool) {
	t.Helper()

	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	ctx := context.Background()
	pool, err := db.ConnectPostgres(ctx, dsn, db.PoolOptions{})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	m, err := db.NewMigrator(pool, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Close())

	_, err = pool.Exec(ctx, `TRUNCATE event_logs, appointments, patients, doctors, clinics`)
	require.NoError(t, err)

	return appointment.NewPgRepository(pool), pool
}

type fixture struct {
	pool    *pgxpool.Pool
	doctor  uuid.UUID
	patient uuid.UUID
	clinic  uuid.UUID
}

func newFixture(t *testing.T, pool *pgxpool.Pool) *fixture {
	t.Helper()
	f := &fixture{pool: pool, doctor: uuid.New(), patient: uuid.New(), clinic: uuid.New()}
	ctx := context.Background()

	_, err := pool.Exec(ctx, `INSERT INTO clinics (id, name) VALUES ($1, 'Northside')`, f.clinic)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO doctors (id, name) VALUES ($1, 'Dr. Hopper')`, f.doctor)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO patients (id, name) VALUES ($1, 'Ada Lovelace')`, f.patient)
	require.NoError(t, err)
	return f
}

func (f *fixture) add(t *testing.T, status appointment.Status, date time.Time) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := f.pool.Exec(context.Background(), `
		INSERT INTO appointments (id, doctor_id, patient_id, clinic_id, appointment_date, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, f.doctor, f.patient, f.clinic, date, string(status))
	require.NoError(t, err)
	return id
}

func ids(summaries []appointment.Summary) []uuid.UUID {
	out := make([]uuid.UUID, len(summaries))
	for i, s := range summaries {
		out[i] = s.ID
	}
	return out
}

func TestPgRepository_BulkSetFlagIsIdempotent(t *testing.T) {
	repo, pool := newPgRepository(t)
	f := newFixture(t, pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	id := f.add(t, appointment.StatusConfirmed, now.Add(30*time.Minute))

	found, err := repo.FindInWindow(ctx, now.Add(28*time.Minute), now.Add(33*time.Minute), appointment.FlagNotifiedThirtyMin)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{id}, ids(found))
	assert.Equal(t, "Ada Lovelace", found[0].PatientName)
	assert.Equal(t, f.doctor, found[0].DoctorID)

	marked, err := repo.BulkSetFlag(ctx, []uuid.UUID{id}, appointment.FlagNotifiedThirtyMin)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id}, marked)

	again, err := repo.BulkSetFlag(ctx, []uuid.UUID{id}, appointment.FlagNotifiedThirtyMin)
	require.NoError(t, err)
	assert.Empty(t, again, "a flag already set must not be reported twice")

	found, err = repo.FindInWindow(ctx, now.Add(28*time.Minute), now.Add(33*time.Minute), appointment.FlagNotifiedThirtyMin)
	require.NoError(t, err)
	assert.Empty(t, found)

	// The other tier's flag is untouched.
	found, err = repo.FindInWindow(ctx, now.Add(28*time.Minute), now.Add(33*time.Minute), appointment.FlagNotifiedTenMin)
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestPgRepository_FindInWindowBoundsAreInclusive(t *testing.T) {
	repo, pool := newPgRepository(t)
	f := newFixture(t, pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	start, end := now.Add(8*time.Minute), now.Add(13*time.Minute)

	atStart := f.add(t, appointment.StatusScheduled, start)
	atEnd := f.add(t, appointment.StatusReopened, end)
	f.add(t, appointment.StatusScheduled, start.Add(-time.Microsecond))
	f.add(t, appointment.StatusScheduled, end.Add(time.Microsecond))
	f.add(t, appointment.StatusCancelled, start.Add(time.Minute))
	f.add(t, appointment.StatusInProgress, start.Add(time.Minute))

	found, err := repo.FindInWindow(ctx, start, end, appointment.FlagNotifiedTenMin)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{atStart, atEnd}, ids(found))
}

func TestPgRepository_BulkSetExpiredReturnsOnlyRowsItChanged(t *testing.T) {
	repo, pool := newPgRepository(t)
	f := newFixture(t, pool)
	ctx := context.Background()
	now := time.Now().UTC()

	overdue := f.add(t, appointment.StatusScheduled, now.Add(-2*time.Hour))
	alreadyExpired := f.add(t, appointment.StatusExpired, now.Add(-2*time.Hour))
	started := f.add(t, appointment.StatusInProgress, now.Add(-2*time.Hour))
	f.add(t, appointment.StatusConfirmed, now.Add(-30*time.Minute))

	found, err := repo.FindExpirable(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{overdue}, ids(found))

	marked, err := repo.BulkSetExpired(ctx, []uuid.UUID{overdue, alreadyExpired, started})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{overdue}, marked)

	marked, err = repo.BulkSetExpired(ctx, []uuid.UUID{overdue})
	require.NoError(t, err)
	assert.Empty(t, marked)

	got, err := repo.GetAppointmentByID(ctx, started)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusInProgress, got.Status)
}

func TestPgRepository_GuardedUpdateAndDelete(t *testing.T) {
	repo, pool := newPgRepository(t)
	f := newFixture(t, pool)
	ctx := context.Background()

	id := f.add(t, appointment.StatusExpired, time.Now().UTC().Add(-2*time.Hour))
	appt, err := repo.GetAppointmentByID(ctx, id)
	require.NoError(t, err)

	require.NoError(t, appointment.ApplyReopen(appt, time.Now().UTC().Add(24*time.Hour)))

	_, err = repo.UpdateAppointment(ctx, appt, appointment.StatusScheduled)
	require.ErrorIs(t, err, appointment.ErrAppointmentNotFound, "stale from-status must not write")

	updated, err := repo.UpdateAppointment(ctx, appt, appointment.StatusExpired)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusReopened, updated.Status)
	assert.False(t, updated.NotifiedThirtyMin)

	require.ErrorIs(t, repo.DeleteAppointment(ctx, id, appointment.StatusExpired), appointment.ErrAppointmentNotFound)
	require.NoError(t, repo.DeleteAppointment(ctx, id, appointment.StatusReopened))

	_, err = repo.GetAppointmentByID(ctx, id)
	require.ErrorIs(t, err, appointment.ErrAppointmentNotFound)
}
