package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/carelink/appointment-pipeline/internal/appointment"
	"github.com/carelink/appointment-pipeline/internal/fault"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func createAppointmentHandler(intake *appointment.Intake) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := intake.Book(r.Context(), appointment.IntakeRequest{
			AppointmentID: req.AppointmentID,
			InsuredID:     req.InsuredID,
			CountryISO:    appointment.Country(req.CountryISO),
			ScheduleID:    req.ScheduleID,
		})
		if err != nil {
			handleBookError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(*appt))
	}
}

func listAppointmentsHandler(query *appointment.Query) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		insuredID := r.URL.Query().Get("insured_id")
		// echo the clamped values so clients page with what was applied
		limit, offset := appointment.NormalizePage(queryInt(r, "limit", 0), queryInt(r, "offset", 0))

		appts, err := query.ListByInsured(r.Context(), insuredID, limit, offset)
		if err != nil {
			handleQueryError(w, err)
			return
		}

		resp := ListAppointmentsResponse{
			Appointments: make([]AppointmentResponse, 0, len(appts)),
			Limit:        limit,
			Offset:       offset,
		}
		for _, a := range appts {
			resp.Appointments = append(resp.Appointments, toAppointmentResponse(a))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getAppointmentHandler(query *appointment.Query) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		hint := appointment.Country(r.URL.Query().Get("country"))

		appt, err := query.GetByID(r.Context(), id, hint)
		if err != nil {
			handleQueryError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

func handleBookError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrInvalidInsuredID),
		errors.Is(err, appointment.ErrUnsupportedCountry):
		writeError(w, http.StatusBadRequest, "invalid_booking", err.Error())
	case errors.Is(err, appointment.ErrScheduleNotFound):
		writeError(w, http.StatusNotFound, "schedule_not_found", err.Error())
	case errors.Is(err, appointment.ErrDuplicateAppointment):
		writeError(w, http.StatusConflict, "duplicate_appointment", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleQueryError(w http.ResponseWriter, err error) {
	switch {
	case fault.KindOf(err) == fault.KindValidation:
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
