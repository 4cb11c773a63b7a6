package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/appointment-lifecycle/internal/appointment"
)

type StatusChangeRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type EditAppointmentRequest struct {
	AppointmentDate *time.Time `json:"appointment_date,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
}

type ReopenAppointmentRequest struct {
	AppointmentDate time.Time `json:"appointment_date"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	DoctorID           uuid.UUID  `json:"doctor_id"`
	PatientID          uuid.UUID  `json:"patient_id"`
	ClinicID           uuid.UUID  `json:"clinic_id"`
	AppointmentDate    time.Time  `json:"appointment_date"`
	Status             string     `json:"status"`
	NotifiedThirtyMin  bool       `json:"notified_thirty_min"`
	NotifiedTenMin     bool       `json:"notified_ten_min"`
	CheckInTime        *time.Time `json:"check_in_time,omitempty"`
	StartTime          *time.Time `json:"start_time,omitempty"`
	EndTime            *time.Time `json:"end_time,omitempty"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	Notes              *string    `json:"notes,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		DoctorID:           a.DoctorID,
		PatientID:          a.PatientID,
		ClinicID:           a.ClinicID,
		AppointmentDate:    a.AppointmentDate,
		Status:             string(a.Status),
		NotifiedThirtyMin:  a.NotifiedThirtyMin,
		NotifiedTenMin:     a.NotifiedTenMin,
		CheckInTime:        a.CheckInTime,
		StartTime:          a.StartTime,
		EndTime:            a.EndTime,
		CancellationReason: a.CancellationReason,
		Notes:              a.Notes,
		UpdatedAt:          a.UpdatedAt,
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
