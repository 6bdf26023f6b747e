// Package monitor restarts recordings whose stream has gone away.
//
// Every watched recording gets a HEAD probe of its resolved URL once per
// interval. Only a definite HTTP error status counts as dead; timeouts,
// transport errors and non-HTTP URLs are assumed alive so a flaky network
// does not cause restart loops.
package monitor

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/webcorder/webcorder/internal/metrics"
	"github.com/webcorder/webcorder/internal/resolver"
	"github.com/webcorder/webcorder/internal/session"
)

// Supervisor is the part of the recording supervisor the monitor drives
type Supervisor interface {
	IsActive(id string) bool
	Stop(id string) (session.Session, error)
	Start(ctx context.Context, id string) (session.Session, error)
}

// Prober issues reachability requests
type Prober interface {
	Head(ctx context.Context, rawURL string, timeout time.Duration, headers map[string]string) (*resolver.Response, error)
}

// Options configures a Monitor
type Options struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
	RestartDelay time.Duration
}

func (o *Options) setDefaults() {
	if o.Interval <= 0 {
		o.Interval = 15 * time.Second
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 5 * time.Second
	}
	if o.RestartDelay < 0 {
		o.RestartDelay = 0
	}
}

// Monitor tracks the Watched-set and restarts dead recordings
type Monitor struct {
	registry *session.Registry
	sup      Supervisor
	prober   Prober
	opts     Options
	log      zerolog.Logger

	watched    *session.IDSet
	restarting *session.IDSet
	wg         sync.WaitGroup
}

// New creates a monitor. Register it with the supervisor via SetWatcher so
// recordings are watched as they start.
func New(registry *session.Registry, sup Supervisor, prober Prober, opts Options, log zerolog.Logger) *Monitor {
	opts.setDefaults()
	return &Monitor{
		registry:   registry,
		sup:        sup,
		prober:     prober,
		opts:       opts,
		log:        log.With().Str("component", "monitor").Logger(),
		watched:    session.NewIDSet(),
		restarting: session.NewIDSet(),
	}
}

// Watch adds a recording session to the health checks
func (m *Monitor) Watch(id string) {
	if m.watched.Add(id) {
		metrics.WatchedSessions.Inc()
	}
}

// Unwatch removes id from the health checks; unknown ids are ignored
func (m *Monitor) Unwatch(id string) {
	if m.watched.Remove(id) {
		metrics.WatchedSessions.Dec()
	}
}

// IsWatched reports whether id is being health-checked
func (m *Monitor) IsWatched(id string) bool {
	return m.watched.Has(id)
}

// Restarting reports whether a restart of id is pending
func (m *Monitor) Restarting(id string) bool {
	return m.restarting.Has(id)
}

// Count returns the number of watched sessions
func (m *Monitor) Count() int {
	return m.watched.Len()
}

// CheckOnce probes every watched recording and schedules a restart for each
// confirmed-dead stream. It returns the number of restarts scheduled.
func (m *Monitor) CheckOnce(ctx context.Context) int {
	restarts := 0
	for _, id := range m.watched.Snapshot() {
		if ctx.Err() != nil {
			break
		}

		if !m.sup.IsActive(id) {
			m.Unwatch(id)
			continue
		}

		sess, ok := m.registry.Get(id)
		if !ok {
			m.Unwatch(id)
			continue
		}

		if m.Alive(ctx, sess.ResolvedURL) {
			continue
		}

		if m.scheduleRestart(ctx, sess) {
			restarts++
		}
	}
	return restarts
}

// Alive reports whether rawURL still answers. Anything short of an HTTP
// status >= 400 is treated as alive.
func (m *Monitor) Alive(ctx context.Context, rawURL string) bool {
	if rawURL == "" {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return true
	}

	resp, err := m.prober.Head(ctx, rawURL, m.opts.ProbeTimeout, nil)
	if err != nil {
		m.log.Debug().Err(err).Msg("probe failed, assuming alive")
		return true
	}
	return resp.StatusCode < 400
}

func (m *Monitor) scheduleRestart(ctx context.Context, sess session.Session) bool {
	if !m.restarting.Add(sess.ID) {
		return false
	}

	model := resolver.ModelName(sess.SourceURL)
	if model == "" {
		model = "stream"
	}
	log := m.log.With().Str("session", sess.ID).Str("model", model).Logger()

	// The HEAD can take seconds; a user stop and restart in the meantime
	// leaves a new process that must not be torn down.
	if cur, ok := m.registry.Get(sess.ID); !ok || cur.Process != sess.Process {
		m.restarting.Remove(sess.ID)
		log.Debug().Msg("recording changed during health check, skipping restart")
		return false
	}

	log.Warn().Msg("stream disconnected, restarting")
	m.Unwatch(sess.ID)
	if _, err := m.sup.Stop(sess.ID); err != nil {
		log.Error().Err(err).Msg("failed to stop recording for restart")
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.restarting.Remove(sess.ID)
		m.restart(ctx, sess.ID, log)
	}()
	return true
}

func (m *Monitor) restart(ctx context.Context, id string, log zerolog.Logger) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Msg("restart panicked")
		}
	}()

	timer := time.NewTimer(m.opts.RestartDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	// Re-read before acting: the user may have removed the session or
	// started it again during the delay.
	if _, ok := m.registry.Get(id); !ok {
		return
	}
	if m.sup.IsActive(id) {
		return
	}

	sess, err := m.sup.Start(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("status", string(sess.Status)).Msg("failed to restart stream")
		return
	}
	metrics.Restarts.Inc()
	log.Info().Str("output", sess.OutputPath).Msg("stream recording restarted")
}

// Wait blocks until scheduled restarts have finished
func (m *Monitor) Wait() {
	m.wg.Wait()
}

// Serve runs CheckOnce every interval until ctx is cancelled
func (m *Monitor) Serve(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()
	defer m.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.safeCheck(ctx)
		}
	}
}

func (m *Monitor) safeCheck(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			m.log.Error().Interface("panic", p).Msg("monitor iteration panicked")
		}
	}()
	m.CheckOnce(ctx)
}

// String names the service in supervisor logs
func (m *Monitor) String() string {
	return "monitor"
}
