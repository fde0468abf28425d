package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Name of the partial unique index guarding one scheduled booking per patient and day.
const patientDayConstraint = "appointments_patient_day_scheduled"

const appointmentColumns = `id, patient_id, patient_name, clinic_name, date, start_time, end_time, status, treatment_type, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.PatientName,
		&a.ClinicName,
		&a.Date,
		&a.StartTime,
		&a.EndTime,
		&a.Status,
		&a.TreatmentType,
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

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// whereClause renders a Filter as SQL conditions with positional args.
func whereClause(f Filter) (string, []any) {
	var conds []string
	var args []any

	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Date != nil {
		add("date = $%d", *f.Date)
	}
	if f.DateFrom != nil {
		add("date >= $%d", *f.DateFrom)
	}
	if f.DateTo != nil {
		add("date < $%d", *f.DateTo)
	}
	if f.ClinicName != "" {
		add("clinic_name = $%d", f.ClinicName)
	}
	if f.PatientID != "" {
		add("patient_id = $%d", f.PatientID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func isPatientDayViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == patientDayConstraint
}

// Interface methods

func (r *PgRepository) Find(ctx context.Context, f Filter) ([]Appointment, error) {
	where, args := whereClause(f)
	query := `SELECT ` + appointmentColumns + ` FROM appointments` + where
	if f.SortBySchedule {
		query += ` ORDER BY date ASC, start_time ASC`
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) FindOne(ctx context.Context, f Filter) (*Appointment, error) {
	where, args := whereClause(f)
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments`+where+` LIMIT 1`, args...)
	return scanAppointment(row)
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) Insert(ctx context.Context, a Appointment) (*Appointment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, patient_name, clinic_name, date, start_time, end_time, status, treatment_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.PatientID, a.PatientName, a.ClinicName, a.Date, a.StartTime, a.EndTime, string(a.Status), a.TreatmentType)

	created, err := scanAppointment(row)
	if err != nil {
		if isPatientDayViolation(err) {
			return nil, ErrDuplicateSameDay
		}
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) UpdateByID(ctx context.Context, id uuid.UUID, c Changes) (*Appointment, error) {
	var status, expect *string
	if c.Status != nil {
		s := string(*c.Status)
		status = &s
	}
	if c.ExpectStatus != nil {
		s := string(*c.ExpectStatus)
		expect = &s
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET patient_name   = COALESCE($2, patient_name),
		    clinic_name    = COALESCE($3, clinic_name),
		    date           = COALESCE($4::date, date),
		    start_time     = COALESCE($5::timestamp, start_time),
		    end_time       = COALESCE($6::timestamp, end_time),
		    treatment_type = COALESCE($7, treatment_type),
		    status         = COALESCE($8, status),
		    patient_id     = COALESCE($10, patient_id),
		    updated_at     = now()
		WHERE id = $1
		  AND ($9::text IS NULL OR status = $9)
		RETURNING `+appointmentColumns,
		id, c.PatientName, c.ClinicName, c.Date, c.StartTime, c.EndTime, c.TreatmentType, status, expect, c.PatientID)

	updated, err := scanAppointment(row)
	if err != nil {
		if isPatientDayViolation(err) {
			return nil, ErrDuplicateSameDay
		}
		return nil, err
	}
	return updated, nil
}

func (r *PgRepository) DeleteByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		DELETE FROM appointments
		WHERE id = $1
		RETURNING `+appointmentColumns, id)
	return scanAppointment(row)
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

func (r *PgRepository) LookupContact(ctx context.Context, patientID string) (string, bool, error) {
	var mobile *string
	err := r.pool.QueryRow(ctx, `
		SELECT mobile
		FROM patients
		WHERE id = $1
	`, patientID).Scan(&mobile)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("lookup patient contact: %w", err)
	}
	if mobile == nil || *mobile == "" {
		return "", false, nil
	}
	return *mobile, true, nil
}

func (r *PgRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
