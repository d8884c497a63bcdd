package event

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/carelink/appointment-pipeline/internal/fault"
)

// StreamPublisher writes country-addressed events onto Redis Streams.
// One stream per country, fixed routing table from config.
type StreamPublisher struct {
	client  *redis.Client
	streams map[string]string // country code -> stream key
}

func NewStreamPublisher(client *redis.Client, streams map[string]string) *StreamPublisher {
	return &StreamPublisher{client: client, streams: streams}
}

func (p *StreamPublisher) PublishTo(ctx context.Context, country string, ev Event) error {
	stream, ok := p.streams[country]
	if !ok {
		return fault.Validationf("no stream configured for country %q", country)
	}

	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: streamValues(ev),
	}).Err()
	if err != nil {
		return fault.Infraf("publish %s to stream %s: %w", ev.Name, stream, err)
	}
	return nil
}

// streamClient is the slice of redis.Client the consumer uses.
type streamClient interface {
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
}

// Backlog passes before the consumer moves on to new entries; unacked
// entries left behind stay in the pending list for the next start.
const maxBacklogPasses = 3

// StreamConsumer reads one country stream through a consumer group and
// acks per message. Entries whose handler reported an infrastructure
// error stay in the pending entries list and are re-read on the next
// backlog pass or the next start, which is what gives the
// at-least-once behaviour.
type StreamConsumer struct {
	client   streamClient
	stream   string
	group    string
	consumer string
	batch    int64
	block    time.Duration
	backoff  time.Duration
	log      zerolog.Logger
}

func NewStreamConsumer(client *redis.Client, stream, group, consumer string, log zerolog.Logger) *StreamConsumer {
	return &StreamConsumer{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		batch:    16,
		block:    5 * time.Second,
		backoff:  time.Second,
		log:      log.With().Str("stream", stream).Str("group", group).Logger(),
	}
}

// Run blocks until ctx is done. It first drains this consumer's pending
// entries (deliveries that were never acked), then tails new ones.
func (c *StreamConsumer) Run(ctx context.Context, handler Handler) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}

	cursor := "0" // pending entries first, then ">"
	backlogPasses := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  []string{c.stream, cursor},
			Count:    c.batch,
			Block:    c.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				cursor = ">"
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			c.log.Error().Err(err).Msg("read group failed, backing off")
			time.Sleep(c.backoff)
			continue
		}

		delivered := 0
		unacked := 0
		for _, s := range streams {
			delivered += len(s.Messages)
			for _, msg := range s.Messages {
				if !c.handleMessage(ctx, handler, msg) {
					unacked++
				}
			}
		}

		// The "0" cursor replays this consumer's pending entries and never
		// blocks; without the pass cap a permanently failing entry would
		// keep the loop here and starve the stream's new entries.
		if cursor == "0" {
			backlogPasses++
			if delivered == 0 || backlogPasses >= maxBacklogPasses {
				cursor = ">"
			}
		}

		if unacked > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff):
			}
		}
	}
}

// handleMessage isolates one entry: a failure here never aborts the
// batch, and a panic in the handler is demoted to a logged redelivery.
// Returns whether the entry was acked.
func (c *StreamConsumer) handleMessage(ctx context.Context, handler Handler, msg redis.XMessage) (acked bool) {
	defer func() {
		if r := recover(); r != nil {
			acked = false
			c.log.Error().Str("entry", msg.ID).Any("panic", r).Msg("handler panicked, leaving entry pending")
		}
	}()

	ev := fromStreamValues(msg.Values)
	err := handler(ctx, ev)
	if err != nil && fault.Retryable(err) {
		c.log.Error().Err(err).Str("entry", msg.ID).Str("event", ev.Name).Msg("handler failed, leaving entry pending")
		return false
	}
	if err != nil {
		// validation or business: acked as handled, logged, never retried
		c.log.Warn().Err(err).Str("entry", msg.ID).Str("event", ev.Name).Str("kind", fault.KindOf(err).String()).Msg("message dropped")
	}

	if ackErr := c.client.XAck(ctx, c.stream, c.group, msg.ID).Err(); ackErr != nil {
		c.log.Error().Err(ackErr).Str("entry", msg.ID).Msg("ack failed")
		return false
	}
	return true
}

var _ CountryPublisher = (*StreamPublisher)(nil)

func (c *StreamConsumer) ensureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fault.Infraf("create consumer group %s on %s: %w", c.group, c.stream, err)
	}
	return nil
}
