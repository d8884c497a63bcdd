package api

import (
	"time"

	"github.com/carelink/appointment-pipeline/internal/appointment"
)

type CreateAppointmentRequest struct {
	AppointmentID string `json:"appointment_id,omitempty"` // optional idempotency key
	InsuredID     string `json:"insured_id"`
	CountryISO    string `json:"country_iso"`
	ScheduleID    int64  `json:"schedule_id"`
}

type AppointmentResponse struct {
	ID          string     `json:"id"`
	InsuredID   string     `json:"insured_id"`
	CountryISO  string     `json:"country_iso"`
	ScheduleID  int64      `json:"schedule_id"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

type ListAppointmentsResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:          a.ID,
		InsuredID:   a.InsuredID,
		CountryISO:  string(a.CountryISO),
		ScheduleID:  a.ScheduleID,
		Status:      string(a.Status),
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
		ProcessedAt: a.ProcessedAt,
	}
}
