package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `
	id, doctor_id, patient_id, clinic_id, appointment_date, status,
	notified_thirty_min, notified_ten_min, check_in_time, start_time, end_time,
	cancellation_reason, notes, created_at, updated_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.ClinicID,
		&a.AppointmentDate,
		&a.Status,
		&a.NotifiedThirtyMin,
		&a.NotifiedTenMin,
		&a.CheckInTime,
		&a.StartTime,
		&a.EndTime,
		&a.CancellationReason,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func collectSummaries(rows pgx.Rows) ([]Summary, error) {
	defer rows.Close()

	var result []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.DoctorID, &s.PatientName, &s.AppointmentDate); err != nil {
			return nil, err
		}
		result = append(result, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func collectIDs(rows pgx.Rows) ([]uuid.UUID, error) {
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return ids, nil
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func statusStrings(set []Status) []string {
	out := make([]string, len(set))
	for i, s := range set {
		out[i] = string(s)
	}
	return out
}

// flagColumn maps a flag to its column. Only whitelisted names ever reach SQL.
func flagColumn(f ReminderFlag) (string, error) {
	switch f {
	case FlagNotifiedThirtyMin:
		return "notified_thirty_min", nil
	case FlagNotifiedTenMin:
		return "notified_ten_min", nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidReminderFlag, f)
}

// Interface methods

func (r *PgRepository) FindExpirable(ctx context.Context, cutoff time.Time) ([]Summary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, a.doctor_id, p.name, a.appointment_date
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		WHERE a.status = ANY($1::text[])
		  AND a.appointment_date < $2
	`, statusStrings(ExpirableStatuses), cutoff)
	if err != nil {
		return nil, fmt.Errorf("query expirable appointments: %w", err)
	}
	return collectSummaries(rows)
}

func (r *PgRepository) BulkSetExpired(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx, `
		UPDATE appointments
		SET status = 'expired',
		    updated_at = now()
		WHERE id = ANY($1::uuid[])
		  AND status = ANY($2::text[])
		RETURNING id
	`, idStrings(ids), statusStrings(ExpirableStatuses))
	if err != nil {
		return nil, fmt.Errorf("bulk expire appointments: %w", err)
	}
	return collectIDs(rows)
}

func (r *PgRepository) FindInWindow(ctx context.Context, start, end time.Time, flag ReminderFlag) ([]Summary, error) {
	column, err := flagColumn(flag)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT a.id, a.doctor_id, p.name, a.appointment_date
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		WHERE a.status = ANY($1::text[])
		  AND a.appointment_date BETWEEN $2 AND $3
		  AND a.%s = false
	`, column), statusStrings(RemindableStatuses), start, end)
	if err != nil {
		return nil, fmt.Errorf("query appointments in window: %w", err)
	}
	return collectSummaries(rows)
}

func (r *PgRepository) BulkSetFlag(ctx context.Context, ids []uuid.UUID, flag ReminderFlag) ([]uuid.UUID, error) {
	column, err := flagColumn(flag)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	// The flag = false guard lets two overlapping runs race on the row lock:
	// only one of them gets the id back.
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		UPDATE appointments
		SET %[1]s = true,
		    updated_at = now()
		WHERE id = ANY($1::uuid[])
		  AND %[1]s = false
		RETURNING id
	`, column), idStrings(ids))
	if err != nil {
		return nil, fmt.Errorf("bulk set %s: %w", column, err)
	}
	return collectIDs(rows)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, a *Appointment, from Status) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET appointment_date = $2,
		    status = $3,
		    notified_thirty_min = $4,
		    notified_ten_min = $5,
		    check_in_time = $6,
		    start_time = $7,
		    end_time = $8,
		    cancellation_reason = $9,
		    notes = $10,
		    updated_at = now()
		WHERE id = $1
		  AND status = $11
		RETURNING `+appointmentColumns,
		a.ID,
		a.AppointmentDate,
		a.Status,
		a.NotifiedThirtyMin,
		a.NotifiedTenMin,
		a.CheckInTime,
		a.StartTime,
		a.EndTime,
		a.CancellationReason,
		a.Notes,
		from,
	)
	return scanAppointment(row)
}

func (r *PgRepository) DeleteAppointment(ctx context.Context, id uuid.UUID, from Status) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM appointments
		WHERE id = $1
		  AND status = $2
	`, id, from)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
