package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/nfrund/consoled/internal/domain"
	"github.com/nfrund/consoled/internal/protocol"
	"github.com/nfrund/consoled/internal/pubsub"
	"github.com/nfrund/consoled/internal/router"
	"github.com/nfrund/consoled/internal/websocket"
)

func (h *Handlers) transport(name string) (pubsub.Transport, error) {
	if name == protocol.IoTCoreSource {
		if h.iotcore == nil {
			return nil, fmt.Errorf("%w: %s", domain.ErrTransportDisabled, name)
		}
		return h.iotcore, nil
	}
	if h.bus == nil {
		return nil, fmt.Errorf("%w: local bus", domain.ErrTransportDisabled)
	}
	return h.bus, nil
}

// upstreamKey scopes a subId to the transport source selects.
func upstreamKey(source, subID string) websocket.UpstreamKey {
	if source != protocol.IoTCoreSource {
		source = protocol.LocalSource
	}
	return websocket.UpstreamKey{Source: source, SubID: subID}
}

// SubscribeToPubSubTopic subscribes the connection to a topic filter under a
// client-chosen subId. A subId that is already active on the same transport
// keeps its existing subscription.
func (h *Handlers) SubscribeToPubSubTopic(ctx context.Context, req *router.Request) (any, error) {
	if err := req.Expect(1); err != nil {
		return nil, err
	}
	args, err := decodeArg[protocol.PubSubSubscribeArgs](h, req.Args[0])
	if err != nil {
		return nil, err
	}
	t, err := h.transport(args.Source)
	if err != nil {
		return nil, err
	}
	conn := req.Conn
	key := upstreamKey(args.Source, args.SubID)
	if h.connections.HasUpstream(conn, key) {
		return true, nil
	}

	subCtx, cancel := context.WithTimeout(ctx, h.subscribeTimeout)
	defer cancel()
	sub, err := t.Subscribe(subCtx, args.TopicFilter, h.relay(conn, args))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", domain.ErrSubscribeTimeout, args.TopicFilter)
		}
		return nil, err
	}

	if err := h.connections.TrackUpstream(conn, key, sub); err != nil {
		if uerr := sub.Unsubscribe(); uerr != nil {
			h.logger.Warn("Failed to release surplus subscription", "subId", args.SubID, "error", uerr)
		}
		if errors.Is(err, websocket.ErrDuplicateSubscription) {
			return true, nil
		}
		return nil, err
	}
	h.logger.Debug("Pub/sub subscription added", "conn", conn.ID(), "subId", args.SubID, "filter", args.TopicFilter, "source", args.Source)
	return true, nil
}

func (h *Handlers) relay(conn *websocket.Conn, args protocol.PubSubSubscribeArgs) pubsub.Handler {
	return func(_ context.Context, msg pubsub.Message) error {
		h.pusher.Relay(conn, protocol.CommunicationMessage{
			SubID:           args.SubID,
			SubscribedTopic: args.TopicFilter,
			Topic:           msg.Topic,
			Payload:         string(msg.Payload),
		})
		return nil
	}
}

func (h *Handlers) PublishToPubSubTopic(ctx context.Context, req *router.Request) (any, error) {
	if err := req.Expect(1); err != nil {
		return nil, err
	}
	args, err := decodeArg[protocol.PubSubPublishArgs](h, req.Args[0])
	if err != nil {
		return nil, err
	}
	t, err := h.transport(args.Destination)
	if err != nil {
		return nil, err
	}
	if err := t.Publish(ctx, args.Topic, []byte(args.Payload)); err != nil {
		return nil, err
	}
	return true, nil
}

// UnsubscribeToPubSubTopic releases the subscriptions held under subId on
// both transports. An unknown subId is not an error.
func (h *Handlers) UnsubscribeToPubSubTopic(_ context.Context, req *router.Request) (any, error) {
	if err := req.Expect(1); err != nil {
		return nil, err
	}
	if _, err := h.connections.ReleaseUpstream(req.Conn, req.Args[0]); err != nil {
		return nil, err
	}
	return true, nil
}
