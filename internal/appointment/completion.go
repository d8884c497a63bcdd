package appointment

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/carelink/appointment-pipeline/internal/event"
	"github.com/carelink/appointment-pipeline/internal/fault"
)

// Completion finishes the lifecycle: it consumes the processed event,
// verifies the record and moves it to completed.
type Completion struct {
	tracking TrackingStore
	bus      event.Publisher
	now      func() time.Time
	log      zerolog.Logger
}

func NewCompletion(tracking TrackingStore, bus event.Publisher, log zerolog.Logger) *Completion {
	return &Completion{
		tracking: tracking,
		bus:      bus,
		now:      time.Now,
		log:      log.With().Str("component", "completion").Logger(),
	}
}

// processedMessage is the flattened view of a processed event however it
// was wrapped on the way here.
type processedMessage struct {
	AppointmentID string
	InsuredID     string
	CountryISO    string
	ScheduleID    string
	Status        string
}

// HandleMessage consumes one raw bus message. Malformed messages are
// validation errors (acked, never redelivered); messages declaring a
// status other than "processed" are a deliberate no-op because upstream
// producers emit several shapes for the same logical event.
func (c *Completion) HandleMessage(ctx context.Context, body []byte) error {
	msg, err := decodeProcessedMessage(body)
	if err != nil {
		return err
	}

	if !strings.EqualFold(msg.Status, string(StatusProcessed)) {
		c.log.Debug().Str("status", msg.Status).Str("appointment_id", msg.AppointmentID).Msg("not a processed message, skipping")
		return nil
	}

	return c.Complete(ctx, msg.AppointmentID, Country(msg.CountryISO))
}

// Complete transitions one processed appointment to completed and
// publishes the completed event.
func (c *Completion) Complete(ctx context.Context, appointmentID string, country Country) error {
	appt, err := c.tracking.Get(ctx, appointmentID)
	if err != nil {
		return err
	}

	if appt.CountryISO != country {
		return fault.Business(ErrCountryMismatch)
	}

	now := c.now().UTC()
	found, err := c.tracking.Transition(ctx, appt.ID, StatusProcessed, StatusCompleted, now)
	if err != nil {
		return err
	}
	if found != StatusProcessed {
		return fault.Businessf("%w: appointment %s is %s, not %s", ErrInvalidStatusTransition, appt.ID, found, StatusProcessed)
	}

	completed := event.New(event.AppointmentCompleted, appt.ID, map[string]string{
		"appointmentId": appt.ID,
		"completedAt":   now.Format(time.RFC3339Nano),
		"countryISO":    string(country),
		"insuredId":     appt.InsuredID,
		"scheduleId":    strconv.FormatInt(appt.ScheduleID, 10),
	})
	if err := c.bus.Publish(ctx, completed); err != nil {
		return err
	}

	c.log.Info().Str("appointment_id", appt.ID).Str("country", string(country)).Msg("appointment completed")
	return nil
}

// decodeProcessedMessage unwraps whatever envelope the producer used:
// the bare event object, a {"detail": {...}} wrapper, or a
// {"Message": "<json>"} wrapper carrying the event as a string.
func decodeProcessedMessage(body []byte) (*processedMessage, error) {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(body, &outer); err != nil {
		return nil, fault.Validationf("malformed message body: %w", err)
	}

	if raw, ok := outer["detail"]; ok {
		if err := json.Unmarshal(raw, &outer); err != nil {
			return nil, fault.Validationf("malformed detail envelope: %w", err)
		}
	} else if raw, ok := outer["Message"]; ok {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fault.Validationf("malformed Message envelope: %w", err)
		}
		if err := json.Unmarshal([]byte(inner), &outer); err != nil {
			return nil, fault.Validationf("malformed Message payload: %w", err)
		}
	}

	msg := &processedMessage{
		AppointmentID: stringField(outer, "appointmentId"),
		InsuredID:     stringField(outer, "insuredId"),
		CountryISO:    stringField(outer, "countryISO"),
		ScheduleID:    stringField(outer, "scheduleId"),
		Status:        stringField(outer, "status"),
	}

	if msg.AppointmentID == "" || msg.InsuredID == "" || msg.CountryISO == "" || msg.ScheduleID == "" {
		return nil, fault.Validationf("processed message missing required fields: %+v", msg)
	}
	return msg, nil
}

// stringField tolerates both string and numeric encodings, since
// producers disagree on whether scheduleId is a number.
func stringField(m map[string]json.RawMessage, key string) string {
	raw, ok := m[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
