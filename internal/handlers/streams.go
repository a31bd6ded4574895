package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/nfrund/consoled/internal/domain"
	"github.com/nfrund/consoled/internal/router"
	"github.com/nfrund/consoled/internal/streams"
)

// Stream calls never fail at the router level: every outcome is reported in
// a StreamResponse.

var errReadArity = errors.New("StreamManagerReadMessages requires 5 arguments")

func (h *Handlers) streamFailed(req *router.Request, resp *StreamResponse, err error) (any, error) {
	h.logger.Error("Stream manager call failed", "call", req.Call, "error", err)
	return resp.fail(err), nil
}

func (h *Handlers) ListStreams(ctx context.Context, req *router.Request) (any, error) {
	resp := newStreamResponse()
	names, err := h.streams.ListStreams(ctx)
	if err != nil {
		return h.streamFailed(req, resp, err)
	}
	if names != nil {
		resp.StreamsList = names
	}
	resp.Successful = true
	return resp, nil
}

func (h *Handlers) DescribeStream(ctx context.Context, req *router.Request) (any, error) {
	resp := newStreamResponse()
	if err := req.Expect(1); err != nil {
		return h.streamFailed(req, resp, err)
	}
	info, err := h.streams.DescribeStream(ctx, req.Args[0])
	if err != nil {
		return h.streamFailed(req, resp, err)
	}
	resp.MessageStreamInfo = info
	resp.Successful = true
	return resp, nil
}

func (h *Handlers) DeleteMessageStream(ctx context.Context, req *router.Request) (any, error) {
	resp := newStreamResponse()
	if err := req.Expect(1); err != nil {
		return h.streamFailed(req, resp, err)
	}
	if err := h.streams.DeleteStream(ctx, req.Args[0]); err != nil {
		return h.streamFailed(req, resp, err)
	}
	resp.Successful = true
	return resp, nil
}

// ReadMessages takes name, start sequence number, min count, max count and
// read timeout in milliseconds.
func (h *Handlers) ReadMessages(ctx context.Context, req *router.Request) (any, error) {
	resp := newStreamResponse()
	if len(req.Args) != 5 {
		return h.streamFailed(req, resp, errReadArity)
	}

	var nums [4]int64
	for i, field := range []string{"start sequence number", "min message count", "max message count", "read timeout"} {
		n, err := strconv.ParseInt(req.Args[i+1], 10, 64)
		if err != nil {
			return h.streamFailed(req, resp, fmt.Errorf("%w: %s %q is not a number", domain.ErrInvalidArguments, field, req.Args[i+1]))
		}
		nums[i] = n
	}

	msgs, err := h.streams.ReadMessages(ctx, req.Args[0], streams.ReadOptions{
		DesiredStartSequenceNumber: nums[0],
		MinMessageCount:            nums[1],
		MaxMessageCount:            nums[2],
		ReadTimeoutMillis:          nums[3],
	})
	if err != nil {
		return h.streamFailed(req, resp, err)
	}
	if msgs != nil {
		resp.MessagesList = msgs
	}
	resp.Successful = true
	return resp, nil
}

func (h *Handlers) AppendMessage(ctx context.Context, req *router.Request) (any, error) {
	resp := newStreamResponse()
	if err := req.Expect(2); err != nil {
		return h.streamFailed(req, resp, err)
	}
	if _, err := h.streams.AppendMessage(ctx, req.Args[0], []byte(req.Args[1])); err != nil {
		return h.streamFailed(req, resp, err)
	}
	resp.Successful = true
	return resp, nil
}

func (h *Handlers) CreateMessageStream(ctx context.Context, req *router.Request) (any, error) {
	return h.applyDefinition(ctx, req, h.streams.CreateStream)
}

func (h *Handlers) UpdateMessageStream(ctx context.Context, req *router.Request) (any, error) {
	return h.applyDefinition(ctx, req, h.streams.UpdateStream)
}

func (h *Handlers) applyDefinition(ctx context.Context, req *router.Request, apply func(context.Context, streams.Definition) error) (any, error) {
	resp := newStreamResponse()
	if err := req.Expect(1); err != nil {
		return h.streamFailed(req, resp, err)
	}
	def, err := decodeArg[streams.Definition](h, req.Args[0])
	if err != nil {
		return h.streamFailed(req, resp, err)
	}
	if err := apply(ctx, def); err != nil {
		return h.streamFailed(req, resp, err)
	}
	resp.Successful = true
	return resp, nil
}
