package monitor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webcorder/webcorder/internal/resolver"
	"github.com/webcorder/webcorder/internal/session"
)

type fakeSupervisor struct {
	mu       sync.Mutex
	reg      *session.Registry
	active   map[string]bool
	stops    map[string]int
	starts   map[string]int
	startErr error
}

func newFakeSupervisor(reg *session.Registry) *fakeSupervisor {
	return &fakeSupervisor{
		reg:    reg,
		active: map[string]bool{},
		stops:  map[string]int{},
		starts: map[string]int{},
	}
}

func (f *fakeSupervisor) setActive(id string, active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[id] = active
}

func (f *fakeSupervisor) IsActive(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[id]
}

func (f *fakeSupervisor) Stop(id string) (session.Session, error) {
	f.mu.Lock()
	f.stops[id]++
	f.active[id] = false
	f.mu.Unlock()
	s, _ := f.reg.Get(id)
	return s, nil
}

func (f *fakeSupervisor) Start(_ context.Context, id string) (session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts[id]++
	s, _ := f.reg.Get(id)
	if f.startErr != nil {
		return s, f.startErr
	}
	f.active[id] = true
	return s, nil
}

func (f *fakeSupervisor) counts(id string) (stops, starts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops[id], f.starts[id]
}

type fakeProcess struct{ pid int }

func (p *fakeProcess) PID() int            { return p.pid }
func (p *fakeProcess) Exited() (int, bool) { return 0, false }
func (p *fakeProcess) Quit() error         { return nil }
func (p *fakeProcess) Kill() error         { return nil }

func statusServer(t *testing.T, status *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(int(status.Load()))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestMonitor(reg *session.Registry, sup Supervisor) *Monitor {
	fetcher := resolver.NewFetcher("monitor-test", "test-agent", nil, zerolog.Nop())
	return New(reg, sup, fetcher, Options{Interval: 10 * time.Millisecond, ProbeTimeout: time.Second}, zerolog.Nop())
}

func addLive(t *testing.T, reg *session.Registry, page, stream string) session.Session {
	t.Helper()
	s := reg.Add(page, false)
	s, err := reg.Update(s.ID, func(cur *session.Session) {
		cur.Status = session.StatusLive
		cur.ResolvedURL = stream
	})
	require.NoError(t, err)
	return s
}

func TestCheckOnceUnwatchesInactive(t *testing.T) {
	reg := session.NewRegistry()
	sup := newFakeSupervisor(reg)
	m := newTestMonitor(reg, sup)

	s := reg.Add("https://example.com/alice", false)
	m.Watch(s.ID)
	m.Watch("removed")

	assert.Equal(t, 0, m.CheckOnce(context.Background()))
	assert.False(t, m.IsWatched(s.ID))
	assert.False(t, m.IsWatched("removed"))
	assert.Equal(t, 0, m.Count())
}

func TestCheckOnceKeepsHealthyStream(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := statusServer(t, &status)

	reg := session.NewRegistry()
	sup := newFakeSupervisor(reg)
	m := newTestMonitor(reg, sup)

	s := addLive(t, reg, "https://example.com/alice", srv.URL+"/alice/playlist.m3u8")
	sup.setActive(s.ID, true)
	m.Watch(s.ID)

	assert.Equal(t, 0, m.CheckOnce(context.Background()))
	assert.True(t, m.IsWatched(s.ID))
	stops, starts := sup.counts(s.ID)
	assert.Zero(t, stops)
	assert.Zero(t, starts)
}

func TestCheckOnceRestartsDeadStream(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusNotFound)
	srv := statusServer(t, &status)

	reg := session.NewRegistry()
	sup := newFakeSupervisor(reg)
	m := newTestMonitor(reg, sup)

	s := addLive(t, reg, "https://example.com/alice", srv.URL+"/alice/playlist.m3u8")
	sup.setActive(s.ID, true)
	m.Watch(s.ID)

	assert.Equal(t, 1, m.CheckOnce(context.Background()))
	m.Wait()

	stops, starts := sup.counts(s.ID)
	assert.Equal(t, 1, stops)
	assert.Equal(t, 1, starts)
	assert.False(t, m.IsWatched(s.ID), "the restarted recording is watched again through the supervisor")
}

func TestRestartSkippedWhenProcessReplacedDuringCheck(t *testing.T) {
	reg := session.NewRegistry()
	sup := newFakeSupervisor(reg)
	m := newTestMonitor(reg, sup)

	first, second := &fakeProcess{pid: 1}, &fakeProcess{pid: 2}
	var id string

	// The user stops and starts the recording again while the HEAD is in flight
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ended := reg.EndRecording(id, first, session.StatusIdle)
		assert.True(t, ended)
		_, err := reg.BeginRecording(id, second, "/rec/alice_2.mp4")
		assert.NoError(t, err)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := addLive(t, reg, "https://example.com/alice", srv.URL+"/alice/playlist.m3u8")
	id = s.ID
	_, err := reg.BeginRecording(id, first, "/rec/alice_1.mp4")
	require.NoError(t, err)
	sup.setActive(id, true)
	m.Watch(id)

	assert.Equal(t, 0, m.CheckOnce(context.Background()))
	m.Wait()

	stops, starts := sup.counts(id)
	assert.Zero(t, stops, "the new recording must not be stopped")
	assert.Zero(t, starts)
	assert.True(t, m.IsWatched(id))
	assert.False(t, m.Restarting(id))

	cur, ok := reg.Get(id)
	require.True(t, ok)
	assert.Same(t, second, cur.Process)
}

func TestRestartSkippedWhenAlreadyActive(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusGone)
	srv := statusServer(t, &status)

	reg := session.NewRegistry()
	sup := newFakeSupervisor(reg)
	m := newTestMonitor(reg, sup)
	m.opts.RestartDelay = 50 * time.Millisecond

	s := addLive(t, reg, "https://example.com/alice", srv.URL+"/a.m3u8")
	sup.setActive(s.ID, true)
	m.Watch(s.ID)

	require.Equal(t, 1, m.CheckOnce(context.Background()))
	assert.True(t, m.Restarting(s.ID))
	// A manual start during the delay wins, and a second dead probe while
	// the restart is pending is not scheduled twice.
	sup.setActive(s.ID, true)
	m.Watch(s.ID)
	assert.Equal(t, 0, m.CheckOnce(context.Background()))

	m.Wait()
	assert.False(t, m.Restarting(s.ID))
	stops, _ := sup.counts(s.ID)
	assert.Equal(t, 1, stops)

	_, starts := sup.counts(s.ID)
	assert.Zero(t, starts)
}

func TestRestartFailureIsLogged(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusInternalServerError)
	srv := statusServer(t, &status)

	reg := session.NewRegistry()
	sup := newFakeSupervisor(reg)
	sup.startErr = errors.New("no stream found")
	m := newTestMonitor(reg, sup)

	s := addLive(t, reg, "https://example.com/alice", srv.URL+"/a.m3u8")
	sup.setActive(s.ID, true)
	m.Watch(s.ID)

	require.Equal(t, 1, m.CheckOnce(context.Background()))
	m.Wait()

	assert.False(t, sup.IsActive(s.ID))
	assert.False(t, m.IsWatched(s.ID))
}

func TestAliveAssumesAlive(t *testing.T) {
	closed := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	closedURL := closed.URL
	closed.Close()

	m := newTestMonitor(session.NewRegistry(), newFakeSupervisor(session.NewRegistry()))

	tests := []struct {
		name string
		url  string
	}{
		{name: "empty", url: ""},
		{name: "local file", url: "/tmp/stream.ts"},
		{name: "rtmp", url: "rtmp://example.com/live/key"},
		{name: "connection refused", url: closedURL + "/a.m3u8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, m.Alive(context.Background(), tt.url))
		})
	}
}

func TestServeRunsUntilCancelled(t *testing.T) {
	reg := session.NewRegistry()
	sup := newFakeSupervisor(reg)
	m := newTestMonitor(reg, sup)

	s := reg.Add("https://example.com/alice", false)
	m.Watch(s.ID)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- m.Serve(ctx) }()

	assert.Eventually(t, func() bool { return !m.IsWatched(s.ID) }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
