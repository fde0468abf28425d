package api

import (
	"github.com/google/uuid"

	"github.com/hackgods/dental-appointment-scheduling/internal/appointment"
)

type StatusRequest struct {
	Status appointment.AppointmentStatus `json:"status"`
}

type AppointmentResponse struct {
	ID            uuid.UUID `json:"id"`
	PatientID     string    `json:"patientId"`
	PatientName   string    `json:"patientName"`
	Date          string    `json:"date"`
	StartTime     string    `json:"startTime"`
	EndTime       string    `json:"endTime"`
	Status        string    `json:"status"`
	TreatmentType string    `json:"treatmentType"`
	ClinicName    string    `json:"clinicName"`
	CreatedAt     string    `json:"createdAt,omitempty"`
	UpdatedAt     string    `json:"updatedAt,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toResponse(a *appointment.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		ID:            a.ID,
		PatientID:     a.PatientID,
		PatientName:   a.PatientName,
		Date:          appointment.FormatDate(a.Date),
		StartTime:     appointment.FormatTimestamp(a.StartTime),
		EndTime:       appointment.FormatTimestamp(a.EndTime),
		Status:        string(a.Status),
		TreatmentType: a.TreatmentType,
		ClinicName:    a.ClinicName,
	}
	if !a.CreatedAt.IsZero() {
		resp.CreatedAt = a.CreatedAt.UTC().Format(timestampRFC3339Millis)
	}
	if !a.UpdatedAt.IsZero() {
		resp.UpdatedAt = a.UpdatedAt.UTC().Format(timestampRFC3339Millis)
	}
	return resp
}

const timestampRFC3339Millis = "2006-01-02T15:04:05.000Z07:00"

func toResponseList(appts []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(appts))
	for i := range appts {
		out = append(out, toResponse(&appts[i]))
	}
	return out
}
