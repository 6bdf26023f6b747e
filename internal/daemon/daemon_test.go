package daemon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webcorder/webcorder/internal/metrics"
)

type fakeStopper struct {
	mu     sync.Mutex
	calls  int
	grace  time.Duration
	hadCtx bool
}

func (f *fakeStopper) StopAll(ctx context.Context, grace time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.grace = grace
	f.hadCtx = ctx.Err() == nil
}

type loopService struct {
	name       string
	runs       atomic.Int32
	panicFirst bool
}

func (s *loopService) Serve(ctx context.Context) error {
	if s.runs.Add(1) == 1 && s.panicFirst {
		panic("first run fails")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *loopService) String() string {
	return s.name
}

func runDaemon(t *testing.T, d *Daemon) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- d.Run(ctx) }()
	return cancel, errc
}

func waitRun(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
		return nil
	}
}

func TestDaemonRunsServicesAndStopsRecordings(t *testing.T) {
	stopper := &fakeStopper{}
	d := New(stopper, Options{ShutdownWait: 2 * time.Second, ShutdownTimeout: time.Second}, zerolog.Nop())
	assert.Nil(t, d.Metrics())

	a := &loopService{name: "a"}
	b := &loopService{name: "b"}
	d.Add(a)
	d.Add(b)

	cancel, errc := runDaemon(t, d)
	assert.Eventually(t, func() bool {
		return a.runs.Load() == 1 && b.runs.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, waitRun(t, errc))

	stopper.mu.Lock()
	defer stopper.mu.Unlock()
	assert.Equal(t, 1, stopper.calls)
	assert.Equal(t, 2*time.Second, stopper.grace)
	assert.True(t, stopper.hadCtx, "shutdown gets a live context")
}

func TestDaemonRestartsPanickedService(t *testing.T) {
	d := New(&fakeStopper{}, Options{ShutdownTimeout: time.Second}, zerolog.Nop())
	svc := &loopService{name: "flaky", panicFirst: true}
	d.Add(svc)

	cancel, errc := runDaemon(t, d)
	assert.Eventually(t, func() bool { return svc.runs.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, waitRun(t, errc))
}

func TestMetricsHandler(t *testing.T) {
	d := New(&fakeStopper{}, Options{MetricsAddr: "127.0.0.1:0"}, zerolog.Nop())
	require.NotNil(t, d.Metrics())
	assert.Equal(t, "metrics-server", d.Metrics().String())

	metrics.RecordStarted()
	defer metrics.RecordFinished(metrics.OutcomeStopped)

	rec := httptest.NewRecorder()
	d.Metrics().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "webcorder_recordings_started_total")
	assert.Contains(t, rec.Body.String(), "webcorder_active_recordings")

	rec = httptest.NewRecorder()
	d.Metrics().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}

func TestMetricsServiceShutdown(t *testing.T) {
	svc := NewMetricsService("127.0.0.1:0", time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- svc.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, waitRun(t, errc), context.Canceled)
}
