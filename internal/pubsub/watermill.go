package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// busTopic is the single watermill topic every local message travels on.
// Filters are applied per subscription so that wildcards work.
const busTopic = "consoled.local"

// metaKeyTopic carries Message.Topic through watermill's metadata.
const metaKeyTopic = "topic"

// WatermillBridge implements Transport on watermill's GoChannel.
type WatermillBridge struct {
	pub    message.Publisher
	sub    message.Subscriber
	logger *slog.Logger
}

var _ Transport = (*WatermillBridge)(nil)

// NewWatermillBridge creates an in-process bus.
func NewWatermillBridge() *WatermillBridge {
	logger := slog.Default().With("component", "pubsub")
	goChannel := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 64},
		&slogAdapter{logger: logger},
	)
	return &WatermillBridge{
		pub:    goChannel,
		sub:    goChannel,
		logger: logger,
	}
}

func mapToWatermillMessage(msg Message) *message.Message {
	wmMsg := message.NewMessage(watermill.NewUUID(), msg.Payload)
	for k, v := range msg.Metadata {
		wmMsg.Metadata.Set(k, v)
	}
	wmMsg.Metadata.Set(metaKeyTopic, msg.Topic)
	return wmMsg
}

func mapToPubSubMessage(wmMsg *message.Message) Message {
	metadata := make(map[string]string, len(wmMsg.Metadata))
	for k, v := range wmMsg.Metadata {
		if k != metaKeyTopic {
			metadata[k] = v
		}
	}
	return Message{
		Topic:    wmMsg.Metadata.Get(metaKeyTopic),
		Payload:  wmMsg.Payload,
		Metadata: metadata,
	}
}

// Publish implements Transport.
func (wb *WatermillBridge) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ValidateTopic(topic); err != nil {
		return err
	}
	wmMsg := mapToWatermillMessage(Message{Topic: topic, Payload: payload})
	wmMsg.SetContext(ctx)
	if err := wb.pub.Publish(busTopic, wmMsg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe implements Transport. Delivery runs on its own goroutine until
// the subscription is released; it does not end with ctx.
func (wb *WatermillBridge) Subscribe(ctx context.Context, filter string, handler Handler) (Subscription, error) {
	if err := ValidateFilter(filter); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.Background())
	messages, err := wb.sub.Subscribe(subCtx, busTopic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", filter, err)
	}

	s := &subscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		for wmMsg := range messages {
			msg := mapToPubSubMessage(wmMsg)
			if Match(filter, msg.Topic) {
				if err := handler(subCtx, msg); err != nil {
					wb.logger.Error("Failed to handle message", "filter", filter, "topic", msg.Topic, "msg_id", wmMsg.UUID, "error", err)
				}
			}
			// Nack would make gochannel redeliver forever; a failed relay is
			// logged and dropped instead.
			wmMsg.Ack()
		}
		wb.logger.Debug("Subscription message loop ended", "filter", filter)
	}()
	return s, nil
}

// Close shuts the bus down and ends every subscription.
func (wb *WatermillBridge) Close() error {
	return wb.sub.Close()
}

type subscription struct {
	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

// slogAdapter routes watermill's logging into slog.
type slogAdapter struct {
	logger *slog.Logger
}

func attrs(fields watermill.LogFields) []any {
	out := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		out = append(out, k, v)
	}
	return out
}

func (a *slogAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.logger.Error(msg, append(attrs(fields), "error", err)...)
}

func (a *slogAdapter) Info(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, attrs(fields)...)
}

func (a *slogAdapter) Debug(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, attrs(fields)...)
}

func (a *slogAdapter) Trace(msg string, fields watermill.LogFields) {}

func (a *slogAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &slogAdapter{logger: a.logger.With(attrs(fields)...)}
}
