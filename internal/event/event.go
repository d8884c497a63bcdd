// Package event carries domain events between pipeline stages. Payloads
// are flat string maps on purpose: they must survive both the Redis
// Stream field encoding and JSON on the kafka bus without a schema.
package event

import (
	"time"

	"github.com/google/uuid"
)

const (
	AppointmentCreated   = "AppointmentCreated"
	AppointmentProcessed = "AppointmentProcessed"
	AppointmentCompleted = "AppointmentCompleted"
)

// Event is immutable once published; consumers never mutate it.
type Event struct {
	ID          string
	Name        string
	AggregateID string
	OccurredAt  time.Time
	Payload     map[string]string
}

func New(name, aggregateID string, payload map[string]string) Event {
	return Event{
		ID:          uuid.NewString(),
		Name:        name,
		AggregateID: aggregateID,
		OccurredAt:  time.Now().UTC(),
		Payload:     payload,
	}
}

// reserved stream field names; everything else on a stream entry is payload
const (
	fieldID          = "event_id"
	fieldName        = "event_name"
	fieldAggregateID = "aggregate_id"
	fieldOccurredAt  = "occurred_at"
)

// streamValues flattens the event into XADD field/value pairs.
func streamValues(ev Event) map[string]interface{} {
	values := map[string]interface{}{
		fieldID:          ev.ID,
		fieldName:        ev.Name,
		fieldAggregateID: ev.AggregateID,
		fieldOccurredAt:  ev.OccurredAt.Format(time.RFC3339Nano),
	}
	for k, v := range ev.Payload {
		values[k] = v
	}
	return values
}

// fromStreamValues rebuilds an event from the fields of a stream entry.
func fromStreamValues(values map[string]interface{}) Event {
	ev := Event{Payload: make(map[string]string, len(values))}
	for k, v := range values {
		s, _ := v.(string)
		switch k {
		case fieldID:
			ev.ID = s
		case fieldName:
			ev.Name = s
		case fieldAggregateID:
			ev.AggregateID = s
		case fieldOccurredAt:
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				ev.OccurredAt = t
			}
		default:
			ev.Payload[k] = s
		}
	}
	return ev
}
