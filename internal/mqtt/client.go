// Package mqtt connects the console to an MQTT broker as the "iotcore"
// transport. Paho keeps a single handler per topic filter, so subscriptions
// to the same filter are multiplexed and the broker subscription is held
// while at least one of them is active.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/nfrund/consoled/internal/pubsub"
)

const qos = 1

// Config holds the broker connection settings.
type Config struct {
	Broker   string
	ClientID string
	// Timeout bounds broker round trips that are not bounded by a context.
	Timeout time.Duration
}

// filterSubs is the handler set of one filter. ready is closed once the
// broker answered the subscribe; err is only read after that.
type filterSubs struct {
	handlers map[uint64]pubsub.Handler
	ready    chan struct{}
	err      error
}

func (f *filterSubs) settle(err error) {
	f.err = err
	close(f.ready)
}

// Client implements pubsub.Transport over paho.
type Client struct {
	client  paho.Client
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	nextID  uint64
	filters map[string]*filterSubs
}

var _ pubsub.Transport = (*Client)(nil)

// New creates a client for cfg.Broker. Call Connect to start it.
func New(cfg Config) *Client {
	c := newClient(nil, cfg.Timeout)

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.logger.Warn("MQTT connection lost", "error", err)
		})
	c.client = paho.NewClient(opts)
	return c
}

// NewWithClient wraps an existing paho client.
func NewWithClient(client paho.Client, timeout time.Duration) *Client {
	return newClient(client, timeout)
}

func newClient(client paho.Client, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		client:  client,
		timeout: timeout,
		logger:  slog.Default().With("component", "mqtt"),
		filters: make(map[string]*filterSubs),
	}
}

// Connect starts the connection and waits for it until ctx is done. With
// connect retry enabled the client keeps trying in the background after
// Connect returns an error.
func (c *Client) Connect(ctx context.Context) error {
	if err := wait(ctx, c.client.Connect()); err != nil {
		return fmt.Errorf("connect to MQTT broker: %w", err)
	}
	return nil
}

// onConnect restores broker subscriptions after a reconnect.
func (c *Client) onConnect(client paho.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger.Info("MQTT connected", "filters", len(c.filters))
	for filter := range c.filters {
		client.Subscribe(filter, qos, c.dispatch(filter))
	}
}

// Publish implements pubsub.Transport.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := pubsub.ValidateTopic(topic); err != nil {
		return err
	}
	if err := wait(ctx, c.client.Publish(topic, qos, false, payload)); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe implements pubsub.Transport. ctx bounds the broker round trip
// only; the subscription lasts until Unsubscribe. The round trip runs
// without the client lock, so a slow broker only holds up callers waiting
// on the same filter.
func (c *Client) Subscribe(ctx context.Context, filter string, handler pubsub.Handler) (pubsub.Subscription, error) {
	if err := pubsub.ValidateFilter(filter); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	subs, ok := c.filters[filter]
	var token paho.Token
	if !ok {
		subs = &filterSubs{handlers: make(map[uint64]pubsub.Handler), ready: make(chan struct{})}
		c.filters[filter] = subs
		token = c.client.Subscribe(filter, qos, c.dispatch(filter))
	}
	subs.handlers[id] = handler
	c.mu.Unlock()

	sub := &subscription{client: c, filter: filter, id: id}
	if token != nil {
		err := wait(ctx, token)
		if err != nil {
			c.abandon(filter, subs)
		}
		subs.settle(err)
		if err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", filter, err)
		}
		c.logger.Debug("MQTT filter subscribed", "filter", filter)
		return sub, nil
	}

	select {
	case <-subs.ready:
		if subs.err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", filter, subs.err)
		}
		return sub, nil
	case <-ctx.Done():
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Warn("Failed to release abandoned MQTT handler", "filter", filter, "error", err)
		}
		return nil, fmt.Errorf("subscribe %s: %w", filter, ctx.Err())
	}
}

// abandon drops a filter whose broker subscribe failed, together with every
// handler that joined it while it was pending.
func (c *Client) abandon(filter string, subs *filterSubs) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.filters[filter] == subs {
		delete(c.filters, filter)
	}
	// The broker may still complete a subscribe we gave up on.
	c.client.Unsubscribe(filter)
}

func (c *Client) dispatch(filter string) paho.MessageHandler {
	return func(_ paho.Client, m paho.Message) {
		c.mu.Lock()
		subs, ok := c.filters[filter]
		var handlers []pubsub.Handler
		if ok {
			handlers = make([]pubsub.Handler, 0, len(subs.handlers))
			for _, h := range subs.handlers {
				handlers = append(handlers, h)
			}
		}
		c.mu.Unlock()

		msg := pubsub.Message{Topic: m.Topic(), Payload: m.Payload()}
		for _, h := range handlers {
			if err := h(context.Background(), msg); err != nil {
				c.logger.Error("Failed to handle MQTT message", "filter", filter, "topic", m.Topic(), "error", err)
			}
		}
	}
}

func (c *Client) release(filter string, id uint64) error {
	c.mu.Lock()
	subs, ok := c.filters[filter]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	if _, ok := subs.handlers[id]; !ok {
		c.mu.Unlock()
		return nil
	}
	delete(subs.handlers, id)
	if len(subs.handlers) > 0 {
		c.mu.Unlock()
		return nil
	}
	delete(c.filters, filter)
	// Issued under the lock so that a later subscribe to the same filter
	// reaches the broker after this unsubscribe.
	token := c.client.Unsubscribe(filter)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := wait(ctx, token); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", filter, err)
	}
	c.logger.Debug("MQTT filter unsubscribed", "filter", filter)
	return nil
}

// Filters reports how many distinct filters are subscribed on the broker.
func (c *Client) Filters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.filters)
}

// Close disconnects from the broker.
func (c *Client) Close() error {
	c.client.Disconnect(250)
	return nil
}

type subscription struct {
	client *Client
	filter string
	id     uint64
	once   sync.Once
	err    error
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.err = s.client.release(s.filter, s.id)
	})
	return s.err
}

func wait(ctx context.Context, t paho.Token) error {
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
