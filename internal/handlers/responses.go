package handlers

import "github.com/nfrund/consoled/internal/streams"

// StreamResponse is the payload of every stream manager call. The lists are
// always sent as arrays.
type StreamResponse struct {
	Successful        bool              `json:"successful"`
	ErrorMsg          *string           `json:"errorMsg"`
	MessageStreamInfo *streams.Info     `json:"messageStreamInfo"`
	MessagesList      []streams.Message `json:"messagesList"`
	StreamsList       []string          `json:"streamsList"`
}

func newStreamResponse() *StreamResponse {
	return &StreamResponse{
		MessagesList: []streams.Message{},
		StreamsList:  []string{},
	}
}

func (r *StreamResponse) fail(err error) *StreamResponse {
	msg := err.Error()
	r.Successful = false
	r.ErrorMsg = &msg
	return r
}
