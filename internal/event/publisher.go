package event

import "context"

// Publisher hands an event to a transport. Implementations must surface
// publish failures as infrastructure errors, never swallow them.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// CountryPublisher routes an event to a country-addressed destination.
// The routing table is a fixed mapping resolved at startup, not dynamic
// discovery.
type CountryPublisher interface {
	PublishTo(ctx context.Context, country string, ev Event) error
}

// Handler processes one consumed event. The returned error's fault kind
// decides acknowledgement: validation and business errors ack the
// message, infrastructure errors leave it for redelivery.
type Handler func(ctx context.Context, ev Event) error
