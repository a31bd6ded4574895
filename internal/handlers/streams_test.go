package handlers_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/consoled/internal/handlers"
	"github.com/nfrund/consoled/internal/protocol"
)

// streamResponse returns an unwrapper for handler results that fails the
// test unless the payload is a StreamResponse.
func streamResponse(t *testing.T) func(any, error) *handlers.StreamResponse {
	return func(got any, err error) *handlers.StreamResponse {
		t.Helper()
		require.NoError(t, err)
		resp, ok := got.(*handlers.StreamResponse)
		require.True(t, ok, "unexpected payload %T", got)
		return resp
	}
}

func TestStreams_Lifecycle(t *testing.T) {
	f := setupFixture(t, false)
	stream := streamResponse(t)
	ctx := context.Background()

	resp := stream(f.h.ListStreams(ctx, f.request(protocol.CallStreamListStreams)))
	assert.True(t, resp.Successful)
	assert.Empty(t, resp.StreamsList)

	resp = stream(f.h.CreateMessageStream(ctx, f.request(protocol.CallStreamCreateMessageStream,
		`{"name":"telemetry","maxSize":1024,"strategyOnFull":"RejectNewData","persistence":"Memory"}`)))
	require.True(t, resp.Successful, "create failed: %v", resp.ErrorMsg)

	for _, payload := range []string{"one", "two", "three"} {
		resp = stream(f.h.AppendMessage(ctx, f.request(protocol.CallStreamAppendMessage, "telemetry", payload)))
		require.True(t, resp.Successful)
	}

	resp = stream(f.h.DescribeStream(ctx, f.request(protocol.CallStreamDescribeStream, "telemetry")))
	require.True(t, resp.Successful)
	require.NotNil(t, resp.MessageStreamInfo)
	assert.Equal(t, int64(2), resp.MessageStreamInfo.StorageStatus.NewestSequenceNumber)

	resp = stream(f.h.ReadMessages(ctx, f.request(protocol.CallStreamReadMessages, "telemetry", "1", "1", "5", "100")))
	require.True(t, resp.Successful)
	require.Len(t, resp.MessagesList, 2)
	assert.Equal(t, []byte("two"), resp.MessagesList[0].Payload)

	resp = stream(f.h.UpdateMessageStream(ctx, f.request(protocol.CallStreamUpdateMessageStream,
		`{"name":"telemetry","maxSize":2048,"strategyOnFull":1}`)))
	require.True(t, resp.Successful)

	resp = stream(f.h.ListStreams(ctx, f.request(protocol.CallStreamListStreams)))
	assert.Equal(t, []string{"telemetry"}, resp.StreamsList)

	resp = stream(f.h.DeleteMessageStream(ctx, f.request(protocol.CallStreamDeleteMessageStream, "telemetry")))
	require.True(t, resp.Successful)

	resp = stream(f.h.DescribeStream(ctx, f.request(protocol.CallStreamDescribeStream, "telemetry")))
	assert.False(t, resp.Successful)
	require.NotNil(t, resp.ErrorMsg)
}

func TestStreams_ReadMessagesArguments(t *testing.T) {
	f := setupFixture(t, false)
	stream := streamResponse(t)
	ctx := context.Background()

	resp := stream(f.h.ReadMessages(ctx, f.request(protocol.CallStreamReadMessages, "telemetry", "0")))
	assert.False(t, resp.Successful)
	require.NotNil(t, resp.ErrorMsg)
	assert.Equal(t, "StreamManagerReadMessages requires 5 arguments", *resp.ErrorMsg)

	resp = stream(f.h.ReadMessages(ctx, f.request(protocol.CallStreamReadMessages, "telemetry", "0", "x", "1", "10")))
	assert.False(t, resp.Successful)
	require.NotNil(t, resp.ErrorMsg)
	assert.Contains(t, *resp.ErrorMsg, "min message count")
}

func TestStreams_InvalidDefinition(t *testing.T) {
	f := setupFixture(t, false)
	stream := streamResponse(t)

	resp := stream(f.h.CreateMessageStream(context.Background(), f.request(protocol.CallStreamCreateMessageStream, `{"maxSize":10}`)))
	assert.False(t, resp.Successful)
	require.NotNil(t, resp.ErrorMsg)
}

func TestStreamResponse_JSONDefaults(t *testing.T) {
	f := setupFixture(t, false)
	stream := streamResponse(t)

	resp := stream(f.h.DeleteMessageStream(context.Background(), f.request(protocol.CallStreamDeleteMessageStream)))
	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, false, decoded["successful"])
	assert.Equal(t, []any{}, decoded["messagesList"])
	assert.Equal(t, []any{}, decoded["streamsList"])
	assert.Nil(t, decoded["messageStreamInfo"])
	assert.NotEmpty(t, decoded["errorMsg"])
}
