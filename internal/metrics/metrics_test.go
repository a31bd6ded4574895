package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ConnectionOpened()
		m.Request("init")
		m.PushFailed("1")
		m.UpstreamReleased(errors.New("boom"))
	})
}

func TestMetrics_Counts(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connections))

	m.Request("getComponent")
	m.Request("getComponent")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("getComponent")))

	m.UpstreamTracked()
	m.UpstreamReleased(errors.New("broker gone"))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.upstreamActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.upstreamFailures))
}
