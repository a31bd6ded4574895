package server_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/consoled/internal/app"
	"github.com/nfrund/consoled/internal/auth"
	"github.com/nfrund/consoled/internal/config"
	"github.com/nfrund/consoled/internal/protocol"
)

const (
	testUser     = "admin"
	testPassword = "s3cret"
	manifestPath = "/etc/consoled/components.yaml"
)

const testManifest = `
root: /greengrass/v2
device:
  thingName: gateway-01
  registered: true
components:
  aws.greengrass.Nucleus:
    version: 2.12.0
    builtin: true
    state: RUNNING
  main:
    version: 1.0.0
    state: RUNNING
    dependencies:
      aws.greengrass.Nucleus: HARD
      sensor: SOFT
  sensor:
    version: 0.3.1
    state: FINISHED
    configuration:
      interval: 5
`

// setupIntegrationTest builds the whole console on an in-memory manifest and
// serves it from an httptest server.
func setupIntegrationTest(t *testing.T) *httptest.Server {
	t.Helper()

	hash, err := auth.HashPassword(testPassword)
	require.NoError(t, err)

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, manifestPath, []byte(testManifest), 0o644))

	cfg := &config.Config{
		Addr:             "127.0.0.1:0",
		WSPath:           "/ws",
		Username:         testUser,
		PasswordHash:     hash,
		Manifest:         manifestPath,
		MQTTClientID:     "consoled-test",
		SubscribeTimeout: 2 * time.Second,
		StreamReadMax:    2 * time.Second,
		SendBuffer:       64,
		Metrics:          true,
		ConnectRate:      100,
		LogFormat:        "text",
		LogLevel:         "info",
	}
	require.NoError(t, cfg.Validate())

	a := app.New(cfg, fs)
	srv, err := a.Server()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, a.Start(ctx))

	ts := httptest.NewServer(srv.E)
	t.Cleanup(func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
		ts.Close()
		cancel()
		require.NoError(t, a.Close())
	})
	return ts
}

type testClient struct {
	t      *testing.T
	conn   *websocket.Conn
	nextID int64
	pushes []protocol.Message
}

func dial(t *testing.T, ts *httptest.Server) *testClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(call string, args ...string) int64 {
	c.t.Helper()
	c.nextID++
	data, err := protocol.EncodeRequest(c.nextID, call, args...)
	require.NoError(c.t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(c.t, c.conn.Write(ctx, websocket.MessageText, data))
	return c.nextID
}

// read returns the next frame. A cancelled read closes the connection, so
// tests only read when a message is expected.
func (c *testClient) read() protocol.Message {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := c.conn.Read(ctx)
	require.NoError(c.t, err, "expected a message")
	msg, err := protocol.Decode(data)
	require.NoError(c.t, err)
	return msg
}

// readRaw is read without decoding, for byte comparisons.
func (c *testClient) readRaw() []byte {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := c.conn.Read(ctx)
	require.NoError(c.t, err, "expected a message")
	return data
}

// await reads until the response to id arrives, keeping pushes seen on the
// way in c.pushes.
func (c *testClient) await(id int64) any {
	c.t.Helper()
	for {
		msg := c.read()
		if msg.MessageType == protocol.Response && msg.RequestID == id {
			return msg.Payload
		}
		c.pushes = append(c.pushes, msg)
	}
}

func (c *testClient) call(call string, args ...string) any {
	c.t.Helper()
	return c.await(c.send(call, args...))
}

func (c *testClient) login() {
	c.t.Helper()
	require.Equal(c.t, true, c.call(protocol.CallInit, testUser, testPassword))
}

// decode re-marshals a generic payload into v.
func decode(t *testing.T, payload any, v any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

// until returns the first push matching pred, looking at buffered pushes
// before reading new frames.
func (c *testClient) until(pred func(protocol.Message) bool) protocol.Message {
	c.t.Helper()
	for i, msg := range c.pushes {
		if pred(msg) {
			c.pushes = append(c.pushes[:i:i], c.pushes[i+1:]...)
			return msg
		}
	}
	for {
		msg := c.read()
		if pred(msg) {
			return msg
		}
		c.pushes = append(c.pushes, msg)
	}
}
