package main

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestMetricsServer_StopsWithoutContextCancellation(t *testing.T) {
	logger := zaptest.NewLogger(t)

	m, err := startMetricsServer("127.0.0.1:0", logger)
	require.NoError(t, err)

	resp, err := http.Get("http://" + m.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Stop must return on its own once the roster is done; nothing cancels
	// a context on its behalf.
	done := make(chan struct{})
	go func() {
		m.Stop(logger)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not stop")
	}

	_, err = http.Get("http://" + m.Addr() + "/metrics")
	assert.Error(t, err, "listener released after stop")
}

func TestStartMetricsServer_BadAddress(t *testing.T) {
	_, err := startMetricsServer("256.256.256.256:1", zaptest.NewLogger(t))
	assert.Error(t, err)
}
