package event

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/carelink/appointment-pipeline/internal/fault"
)

// JSON keys reserved for the event metadata on the bus; the remaining
// keys of the flat object are the payload.
const (
	jsonID          = "eventId"
	jsonName        = "eventName"
	jsonAggregateID = "aggregateId"
	jsonOccurredAt  = "occurredAt"
)

// BusPublisher writes events to the kafka bus topic, keyed by aggregate
// id so one appointment's events stay on one partition.
type BusPublisher struct {
	writer *kafka.Writer
}

func NewBusPublisher(brokers []string, topic string) *BusPublisher {
	return &BusPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

var _ Publisher = (*BusPublisher)(nil)

func (p *BusPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := MarshalBus(ev)
	if err != nil {
		return fault.Infraf("marshal %s: %w", ev.Name, err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.AggregateID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(ev.ID)},
			{Key: "event_name", Value: []byte(ev.Name)},
		},
	})
	if err != nil {
		return fault.Infraf("publish %s to bus: %w", ev.Name, err)
	}
	return nil
}

func (p *BusPublisher) Close() error {
	return p.writer.Close()
}

// MarshalBus flattens the event into a single-level JSON object.
func MarshalBus(ev Event) ([]byte, error) {
	flat := make(map[string]string, len(ev.Payload)+4)
	for k, v := range ev.Payload {
		flat[k] = v
	}
	flat[jsonID] = ev.ID
	flat[jsonName] = ev.Name
	flat[jsonAggregateID] = ev.AggregateID
	flat[jsonOccurredAt] = ev.OccurredAt.Format(time.RFC3339Nano)
	return json.Marshal(flat)
}

// UnmarshalBus is the inverse of MarshalBus.
func UnmarshalBus(body []byte) (Event, error) {
	var flat map[string]string
	if err := json.Unmarshal(body, &flat); err != nil {
		return Event{}, err
	}

	ev := Event{Payload: make(map[string]string, len(flat))}
	for k, v := range flat {
		switch k {
		case jsonID:
			ev.ID = v
		case jsonName:
			ev.Name = v
		case jsonAggregateID:
			ev.AggregateID = v
		case jsonOccurredAt:
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				ev.OccurredAt = t
			}
		default:
			ev.Payload[k] = v
		}
	}
	return ev, nil
}

// busReader is the slice of kafka.Reader the consumer uses.
type busReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// BusConsumer reads the bus topic through a consumer group. The commit
// is the ack: a message whose handler reports an infrastructure error
// is retried in place until it succeeds or shutdown interrupts, and
// its offset stays uncommitted meanwhile so a restart or rebalance
// redelivers it.
type BusConsumer struct {
	reader  busReader
	backoff time.Duration
	log     zerolog.Logger
}

func NewBusConsumer(brokers []string, topic, groupID string, log zerolog.Logger) *BusConsumer {
	return &BusConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6,
			MaxWait:  time.Second,
		}),
		backoff: time.Second,
		log:     log.With().Str("topic", topic).Str("group", groupID).Logger(),
	}
}

// Run blocks until ctx is done. Raw handler: the completion stage owns
// envelope unwrapping, so it gets the bytes, not a decoded Event.
func (c *BusConsumer) Run(ctx context.Context, handler func(ctx context.Context, body []byte) error) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			c.log.Error().Err(err).Msg("fetch failed, backing off")
			time.Sleep(c.backoff)
			continue
		}

		if err := c.processMessage(ctx, handler, msg); err != nil {
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.Error().Err(err).Int64("offset", msg.Offset).Msg("commit failed")
		}
	}
}

// processMessage retries retryable failures on the same message.
// Fetching past an uncommitted offset would let a later commit on the
// partition skip the failed message for good, so the consumer holds
// here until the handler succeeds or ctx is done.
func (c *BusConsumer) processMessage(ctx context.Context, handler func(context.Context, []byte) error, msg kafka.Message) error {
	for {
		err := c.handleMessage(ctx, handler, msg.Value)
		if err == nil {
			return nil
		}
		c.log.Error().Err(err).Int64("offset", msg.Offset).Msg("handler failed, retrying message")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff):
		}
	}
}

func (c *BusConsumer) handleMessage(ctx context.Context, handler func(context.Context, []byte) error, body []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fault.Infraf("handler panic: %v", r)
		}
	}()

	err = handler(ctx, body)
	if err != nil && !fault.Retryable(err) {
		// validation or business: commit anyway, log, never retry
		c.log.Warn().Err(err).Str("kind", fault.KindOf(err).String()).Msg("message dropped")
		return nil
	}
	return err
}

func (c *BusConsumer) Close() error {
	return c.reader.Close()
}
