// Package protocol defines the JSON envelopes exchanged with console clients
// over the WebSocket connection.
package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageType tags every outbound envelope so clients can route it.
type MessageType int

const (
	// Response answers a specific request and carries its requestID.
	Response MessageType = iota
	// ComponentList carries the full component list.
	ComponentList
	// DepsGraph carries the filtered dependency graph.
	DepsGraph
	// ComponentChange carries the snapshot of one subscribed component.
	ComponentChange
	// ComponentLogs carries log lines of one subscribed component.
	ComponentLogs
	// PubSubMessage relays a message received on a subscribed transport topic.
	PubSubMessage
)

// PushRequestID is the requestID of every server-initiated message.
const PushRequestID int64 = -1

// Request is the call a client wants to make.
type Request struct {
	Call string   `json:"call"`
	Args []string `json:"args"`
}

// PackedRequest is the inbound envelope.
type PackedRequest struct {
	RequestID int64   `json:"requestID"`
	Request   Request `json:"request"`
}

// Message is the outbound envelope for responses and pushes.
type Message struct {
	MessageType MessageType `json:"messageType"`
	RequestID   int64       `json:"requestID"`
	Payload     any         `json:"payload"`
}

// NewResponse builds the reply to request id.
func NewResponse(id int64, payload any) Message {
	return Message{MessageType: Response, RequestID: id, Payload: payload}
}

// NewPush builds a server-initiated message.
func NewPush(t MessageType, payload any) Message {
	return Message{MessageType: t, RequestID: PushRequestID, Payload: payload}
}

// Encode serializes an outbound envelope.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message type %d: %w", m.MessageType, err)
	}
	return data, nil
}

// Decode parses an outbound envelope. It is the client-side counterpart of
// Encode and is used by tests and tooling.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	return m, nil
}

// ParseRequest parses an inbound envelope. A request without a call name is
// rejected the same way as invalid JSON.
func ParseRequest(data []byte) (PackedRequest, error) {
	var req PackedRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return PackedRequest{}, fmt.Errorf("parse request: %w", err)
	}
	if req.Request.Call == "" {
		return PackedRequest{}, fmt.Errorf("parse request: missing call name")
	}
	return req, nil
}

// EncodeRequest serializes an inbound envelope. Clients and tests use it.
func EncodeRequest(id int64, call string, args ...string) ([]byte, error) {
	if args == nil {
		args = []string{}
	}
	return json.Marshal(PackedRequest{RequestID: id, Request: Request{Call: call, Args: args}})
}
