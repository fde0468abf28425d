package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Changes is a resolved update: every non-nil field is written. When
// ExpectStatus is set the update only applies if the stored status still
// matches it, otherwise ErrAppointmentNotFound is returned.
type Changes struct {
	PatientID     *string
	PatientName   *string
	ClinicName    *string
	Date          *time.Time
	StartTime     *time.Time
	EndTime       *time.Time
	TreatmentType *string
	Status        *AppointmentStatus
	ExpectStatus  *AppointmentStatus
}

// Apply copies the changes onto a record.
func (c Changes) Apply(a *Appointment) {
	if c.PatientID != nil {
		a.PatientID = *c.PatientID
	}
	if c.PatientName != nil {
		a.PatientName = *c.PatientName
	}
	if c.ClinicName != nil {
		a.ClinicName = *c.ClinicName
	}
	if c.Date != nil {
		a.Date = *c.Date
	}
	if c.StartTime != nil {
		a.StartTime = *c.StartTime
	}
	if c.EndTime != nil {
		a.EndTime = *c.EndTime
	}
	if c.TreatmentType != nil {
		a.TreatmentType = *c.TreatmentType
	}
	if c.Status != nil {
		a.Status = *c.Status
	}
}

// Repository contains all persistence needed by the scheduling engine.
type Repository interface {
	// Queries
	Find(ctx context.Context, f Filter) ([]Appointment, error)
	FindOne(ctx context.Context, f Filter) (*Appointment, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Insert must reject a second scheduled appointment for the same patient
	// and date with ErrDuplicateSameDay, independent of the read-side check.
	Insert(ctx context.Context, a Appointment) (*Appointment, error)
	UpdateByID(ctx context.Context, id uuid.UUID, c Changes) (*Appointment, error)
	DeleteByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error

	Ping(ctx context.Context) error
}

// PatientDirectory resolves contact numbers for confirmation messages.
// ok is false when the patient has no record or no number on file.
type PatientDirectory interface {
	LookupContact(ctx context.Context, patientID string) (contact string, ok bool, err error)
}

// Notifier accepts booking confirmations without blocking the caller. It
// never reports delivery outcome back to the scheduling engine.
type Notifier interface {
	Notify(ctx context.Context, req NotificationRequest)
}
