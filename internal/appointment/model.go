package appointment

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Appointment times are naive wall-clock values: Date is midnight of the
// calendar day and StartTime/EndTime carry the same day, all in time.UTC.
type Appointment struct {
	ID            uuid.UUID
	PatientID     string
	PatientName   string
	ClinicName    string
	Date          time.Time
	StartTime     time.Time
	EndTime       time.Time
	Status        AppointmentStatus
	TreatmentType string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Overlaps reports whether the half-open intervals [StartTime, EndTime) intersect.
func (a Appointment) Overlaps(start, end time.Time) bool {
	return start.Before(a.EndTime) && end.After(a.StartTime)
}

// CreateRequest is the booking request as received from the API boundary.
type CreateRequest struct {
	PatientID     string `json:"patientId" validate:"required"`
	PatientName   string `json:"patientName" validate:"required"`
	Date          string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime     string `json:"startTime" validate:"required,datetime=15:04"`
	EndTime       string `json:"endTime" validate:"required,datetime=15:04"`
	TreatmentType string `json:"treatmentType" validate:"required"`
	ClinicName    string `json:"clinicName" validate:"required"`
}

// Patch carries the fields an update may change. Nil fields are left alone.
type Patch struct {
	PatientID     *string            `json:"patientId,omitempty" validate:"omitempty,min=1"`
	PatientName   *string            `json:"patientName,omitempty" validate:"omitempty,min=1"`
	ClinicName    *string            `json:"clinicName,omitempty" validate:"omitempty,min=1"`
	Date          *string            `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	StartTime     *string            `json:"startTime,omitempty" validate:"omitempty,datetime=15:04"`
	EndTime       *string            `json:"endTime,omitempty" validate:"omitempty,datetime=15:04"`
	TreatmentType *string            `json:"treatmentType,omitempty" validate:"omitempty,min=1"`
	Status        *AppointmentStatus `json:"status,omitempty"`
}

func (p Patch) changesSchedule() bool {
	return p.Date != nil || p.StartTime != nil || p.EndTime != nil
}

// Filter selects appointments in a Store. Zero-valued fields do not constrain.
// DateFrom is inclusive and DateTo exclusive.
type Filter struct {
	Date       *time.Time
	DateFrom   *time.Time
	DateTo     *time.Time
	ClinicName string
	PatientID  string
	Status     AppointmentStatus
	// SortBySchedule orders results by (Date, StartTime) ascending.
	SortBySchedule bool
}

// Matches applies the filter to a single record. Stores that cannot push a
// filter down to their backend use it directly.
func (f Filter) Matches(a Appointment) bool {
	if f.Date != nil && !a.Date.Equal(*f.Date) {
		return false
	}
	if f.DateFrom != nil && a.Date.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && !a.Date.Before(*f.DateTo) {
		return false
	}
	if f.ClinicName != "" && a.ClinicName != f.ClinicName {
		return false
	}
	if f.PatientID != "" && a.PatientID != f.PatientID {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	return true
}

// NotificationRequest is handed to the notification port once per booking and
// not kept afterwards.
type NotificationRequest struct {
	RecipientContact string
	PatientName      string
	AppointmentAt    string
	PractitionerName string
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// StatusSummary is today's completed count against completed+scheduled.
type StatusSummary struct {
	Completed int
	Total     int
}
