package handlers

import (
	"context"

	"github.com/nfrund/consoled/internal/router"
)

func (h *Handlers) GetDeviceDetails(_ context.Context, _ *router.Request) (any, error) {
	return h.console.DeviceDetails(), nil
}

func (h *Handlers) GetComponentList(_ context.Context, _ *router.Request) (any, error) {
	return h.console.ComponentList(), nil
}

// GetComponent answers with the component, or null when it is unknown.
func (h *Handlers) GetComponent(_ context.Context, req *router.Request) (any, error) {
	if err := req.Expect(1); err != nil {
		return nil, err
	}
	if c, ok := h.console.Component(req.Args[0]); ok {
		return c, nil
	}
	return nil, nil
}

func (h *Handlers) StartComponent(_ context.Context, req *router.Request) (any, error) {
	if err := req.Expect(1); err != nil {
		return nil, err
	}
	return h.console.StartComponent(req.Args[0]), nil
}

func (h *Handlers) StopComponent(_ context.Context, req *router.Request) (any, error) {
	if err := req.Expect(1); err != nil {
		return nil, err
	}
	return h.console.StopComponent(req.Args[0]), nil
}

func (h *Handlers) ReinstallComponent(_ context.Context, req *router.Request) (any, error) {
	if err := req.Expect(1); err != nil {
		return nil, err
	}
	return h.console.ReinstallComponent(req.Args[0]), nil
}

func (h *Handlers) GetConfig(_ context.Context, req *router.Request) (any, error) {
	if err := req.Expect(1); err != nil {
		return nil, err
	}
	return h.console.GetConfig(req.Args[0]), nil
}

// UpdateConfig replaces the whole configuration of a component.
func (h *Handlers) UpdateConfig(_ context.Context, req *router.Request) (any, error) {
	if err := req.Expect(2); err != nil {
		return nil, err
	}
	return h.console.UpdateConfig(req.Args[0], req.Args[1]), nil
}

// SubscribeToComponent pushes the current snapshot before the response so the
// client never waits for the next change to render.
func (h *Handlers) SubscribeToComponent(_ context.Context, req *router.Request) (any, error) {
	if err := req.Expect(1); err != nil {
		return nil, err
	}
	name := req.Args[0]
	h.statuses.Subscribe(name, req.Conn)
	h.pusher.SendComponentTo(req.Conn, name)
	return true, nil
}

func (h *Handlers) UnsubscribeToComponent(_ context.Context, req *router.Request) (any, error) {
	if err := req.Expect(1); err != nil {
		return nil, err
	}
	h.statuses.Unsubscribe(req.Args[0], req.Conn)
	return true, nil
}

func (h *Handlers) SubscribeToComponentLogs(_ context.Context, req *router.Request) (any, error) {
	if err := req.Expect(1); err != nil {
		return nil, err
	}
	h.logs.Subscribe(req.Args[0], req.Conn)
	return true, nil
}

func (h *Handlers) UnsubscribeToComponentLogs(_ context.Context, req *router.Request) (any, error) {
	if err := req.Expect(1); err != nil {
		return nil, err
	}
	h.logs.Unsubscribe(req.Args[0], req.Conn)
	return true, nil
}

func (h *Handlers) ForcePushComponentList(_ context.Context, _ *router.Request) (any, error) {
	h.pusher.BroadcastList()
	return true, nil
}

func (h *Handlers) ForcePushDependencyGraph(_ context.Context, _ *router.Request) (any, error) {
	h.pusher.BroadcastDependencyGraph()
	return true, nil
}
