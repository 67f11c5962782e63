package cmd

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "github.com/Aman-CERP/xref/internal/errors"
)

func TestAcquireServeLock_OnePerProject(t *testing.T) {
	// Given: a server holding the project lock
	root := t.TempDir()
	first, err := acquireServeLock(root)
	require.NoError(t, err)

	// When: a second server tries to start
	_, err = acquireServeLock(root)

	// Then: it is refused with a lock-held error
	assert.Equal(t, xerrors.ErrCodeLockHeld, xerrors.GetCode(err))
	assert.True(t, xerrors.IsRetryable(err))

	// And: once released, the lock can be taken again
	require.NoError(t, first.Unlock())
	again, err := acquireServeLock(root)
	require.NoError(t, err)
	assert.NoError(t, again.Unlock())
}

func TestServeMetrics_ServesUntilCancelled(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "xref_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serveMetrics(ctx, ln, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "xref_test_total 1")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}

func TestServeCmd_Flags(t *testing.T) {
	cmd := newServeCmd()

	for _, name := range []string{"root", "transport", "metrics-addr"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}
