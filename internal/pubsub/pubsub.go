// Package pubsub is the local publish/subscribe bus components talk on, and
// the transport types shared with the MQTT adapter.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Message is the structure passed between components on the bus.
type Message struct {
	// Topic is the concrete topic the message was published on.
	Topic string
	// Payload contains the raw message data.
	Payload []byte
	// Metadata can contain arbitrary key-value pairs for context.
	Metadata map[string]string
}

// Handler processes a received message.
type Handler func(ctx context.Context, msg Message) error

// Subscription is an active subscription. Unsubscribe stops delivery; it is
// safe to call more than once.
type Subscription interface {
	Unsubscribe() error
}

// Transport is a bus clients can publish to and subscribe on with topic
// filters.
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, filter string, handler Handler) (Subscription, error)
}

var (
	ErrInvalidTopic  = errors.New("invalid topic")
	ErrInvalidFilter = errors.New("invalid topic filter")
)

// ValidateTopic checks a topic used for publishing. Wildcards are not
// allowed.
func ValidateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: %q contains a wildcard", ErrInvalidTopic, topic)
	}
	return nil
}

// ValidateFilter checks a subscription filter. "+" must fill a whole level
// and "#" must be the whole last level.
func ValidateFilter(filter string) error {
	if filter == "" {
		return fmt.Errorf("%w: empty", ErrInvalidFilter)
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "#") && (level != "#" || i != len(levels)-1) {
			return fmt.Errorf("%w: %q", ErrInvalidFilter, filter)
		}
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("%w: %q", ErrInvalidFilter, filter)
		}
	}
	return nil
}

// Match reports whether topic matches filter using MQTT wildcard rules.
func Match(filter, topic string) bool {
	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")
	for i, level := range f {
		if level == "#" {
			return true
		}
		if i >= len(t) {
			return false
		}
		if level != "+" && level != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}
