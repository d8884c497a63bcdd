package appointment

import "errors"

var (
	ErrUnsupportedCountry      = errors.New("unsupported country code")
	ErrInvalidInsuredID        = errors.New("insured id must be exactly five digits")
	ErrScheduleNotFound        = errors.New("schedule not found for country")
	ErrAppointmentNotFound     = errors.New("appointment not found")
	ErrCountryMismatch         = errors.New("appointment country does not match request country")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrScheduleConflict        = errors.New("schedule already reserved by another appointment")
	ErrDuplicateAppointment    = errors.New("appointment already exists in a later state")
)
