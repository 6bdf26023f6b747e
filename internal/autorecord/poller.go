// Package autorecord starts recordings for monitored sessions as soon as
// their stream goes live.
package autorecord

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/webcorder/webcorder/internal/metrics"
	"github.com/webcorder/webcorder/internal/session"
)

// Supervisor is the part of the recording supervisor the poller drives
type Supervisor interface {
	Check(ctx context.Context, id string) (session.Session, error)
	Start(ctx context.Context, id string) (session.Session, error)
}

// Persister stores the auto-record flags. *session.Store satisfies it.
type Persister interface {
	SetAutoRecord(url string, autoRecord bool) error
	UpdateSettings(fn func(settings *session.Settings)) error
}

// Loader reads the persisted document. When the store given to New also
// implements it, every Serve tick re-syncs with the file so pages and flags
// changed by another webcorder process take effect.
type Loader interface {
	Load() session.Document
}

// Options configures a Poller
type Options struct {
	Interval   time.Duration
	RetryLimit int
	Workers    int
	Stagger    time.Duration
}

func (o *Options) setDefaults() {
	if o.Interval <= 0 {
		o.Interval = 60 * time.Second
	}
	if o.RetryLimit <= 0 {
		o.RetryLimit = 3
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.Stagger < 0 {
		o.Stagger = 0
	}
}

// Status describes one session from the poller's point of view
type Status struct {
	Monitored bool
	Failures  int
}

// Result summarises one CheckOnce pass
type Result struct {
	Checked int
	Started int
	Failed  int
}

// Poller keeps the Monitored-set and its per-session failure counters
type Poller struct {
	registry *session.Registry
	sup      Supervisor
	store    Persister
	opts     Options
	log      zerolog.Logger

	monitored *session.IDSet
	enabled   atomic.Bool

	mu       sync.Mutex
	failures map[string]int
}

// New creates a poller. A nil store disables persistence.
func New(registry *session.Registry, sup Supervisor, store Persister, opts Options, log zerolog.Logger) *Poller {
	opts.setDefaults()
	return &Poller{
		registry:  registry,
		sup:       sup,
		store:     store,
		opts:      opts,
		log:       log.With().Str("component", "autorecord").Logger(),
		monitored: session.NewIDSet(),
		failures:  make(map[string]int),
	}
}

// Add puts a session into the Monitored-set and clears its failure count
func (p *Poller) Add(id string) error {
	sess, err := p.setAutoRecord(id, true)
	if err != nil {
		return err
	}
	p.monitor(id)
	p.resetFailures(id)
	p.log.Info().Str("session", id).Str("url", sess.SourceURL).Msg("auto-record enabled")
	return nil
}

// Restore monitors every registry session whose AutoRecord flag is set,
// without writing anything back to the store. It returns how many were added.
func (p *Poller) Restore(enabled bool) int {
	p.enabled.Store(enabled)
	n := 0
	for _, sess := range p.registry.List() {
		if sess.AutoRecord && p.monitored.Add(sess.ID) {
			metrics.MonitoredSessions.Inc()
			n++
		}
	}
	return n
}

// Remove takes a session out of the Monitored-set. Unknown ids are ignored so
// removal can follow a registry delete.
func (p *Poller) Remove(id string) error {
	p.unmonitor(id)

	if _, ok := p.registry.Get(id); !ok {
		return nil
	}
	if _, err := p.setAutoRecord(id, false); err != nil {
		return err
	}
	p.log.Info().Str("session", id).Msg("auto-record disabled")
	return nil
}

// Sync aligns the registry, the Monitored-set and the global switch with doc
// without writing anything back. Pages missing from doc are dropped unless
// they are recording. It returns how many sessions were added and removed.
func (p *Poller) Sync(doc session.Document) (added, removed int) {
	p.enabled.Store(doc.Settings.AutoRecordEnabled)

	for _, sess := range p.registry.List() {
		model, tracked := doc.Models[sess.SourceURL]
		if !tracked {
			if sess.IsRecording() {
				continue
			}
			if err := p.registry.Remove(sess.ID); err == nil {
				removed++
			}
			p.unmonitor(sess.ID)
			continue
		}

		if model.AutoRecord != sess.AutoRecord {
			_, _ = p.registry.Update(sess.ID, func(cur *session.Session) {
				cur.AutoRecord = model.AutoRecord
			})
		}
		if model.AutoRecord {
			p.monitor(sess.ID)
		} else {
			p.unmonitor(sess.ID)
		}
	}

	for _, u := range doc.URLs() {
		if _, ok := p.registry.FindByURL(u); ok {
			continue
		}
		sess := p.registry.Add(u, doc.Models[u].AutoRecord)
		added++
		if sess.AutoRecord {
			p.monitor(sess.ID)
		}
	}
	return added, removed
}

func (p *Poller) monitor(id string) {
	if p.monitored.Add(id) {
		metrics.MonitoredSessions.Inc()
	}
}

func (p *Poller) unmonitor(id string) {
	if p.monitored.Remove(id) {
		metrics.MonitoredSessions.Dec()
	}
	p.resetFailures(id)
}

// Toggle flips membership and returns the new state
func (p *Poller) Toggle(id string) (bool, error) {
	if p.IsMonitored(id) {
		return false, p.Remove(id)
	}
	return true, p.Add(id)
}

// IsMonitored reports whether id is in the Monitored-set
func (p *Poller) IsMonitored(id string) bool {
	return p.monitored.Has(id)
}

// Count returns the size of the Monitored-set
func (p *Poller) Count() int {
	return p.monitored.Len()
}

// Failures returns the consecutive failed checks for id
func (p *Poller) Failures(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures[id]
}

// Status combines membership and the failure count for id
func (p *Poller) Status(id string) Status {
	return Status{Monitored: p.IsMonitored(id), Failures: p.Failures(id)}
}

// SetEnabled switches the whole poller on or off and persists the choice
func (p *Poller) SetEnabled(enabled bool) error {
	p.enabled.Store(enabled)
	if p.store == nil {
		return nil
	}
	if err := p.store.UpdateSettings(func(s *session.Settings) {
		s.AutoRecordEnabled = enabled
	}); err != nil {
		return fmt.Errorf("failed to save auto-record setting: %w", err)
	}
	return nil
}

// Enabled reports whether polling passes run
func (p *Poller) Enabled() bool {
	return p.enabled.Load()
}

func (p *Poller) setAutoRecord(id string, on bool) (session.Session, error) {
	sess, err := p.registry.Update(id, func(cur *session.Session) {
		cur.AutoRecord = on
	})
	if err != nil {
		return session.Session{}, err
	}
	if p.store != nil {
		if err := p.store.SetAutoRecord(sess.SourceURL, on); err != nil {
			return sess, fmt.Errorf("failed to save auto-record flag: %w", err)
		}
	}
	return sess, nil
}

func (p *Poller) resetFailures(id string) {
	p.mu.Lock()
	delete(p.failures, id)
	p.mu.Unlock()
}

// recordFailure bumps the counter for id. Reaching the retry limit wraps it
// back to zero; the session keeps being polled.
func (p *Poller) recordFailure(id string) (count int, wrapped bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[id]++
	if p.failures[id] >= p.opts.RetryLimit {
		p.failures[id] = 0
		return p.opts.RetryLimit, true
	}
	return p.failures[id], false
}

// CheckOnce resolves every monitored session that is not recording and
// starts the live ones. Sessions that left the registry are dropped.
func (p *Poller) CheckOnce(ctx context.Context) Result {
	limit := rate.Inf
	if p.opts.Stagger > 0 {
		limit = rate.Every(p.opts.Stagger)
	}
	limiter := rate.NewLimiter(limit, 1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)

	var checked, started, failed atomic.Int32
	for _, id := range p.monitored.Snapshot() {
		sess, ok := p.registry.Get(id)
		if !ok {
			if p.monitored.Remove(id) {
				metrics.MonitoredSessions.Dec()
			}
			p.resetFailures(id)
			continue
		}
		if sess.IsRecording() {
			continue
		}

		if err := limiter.Wait(gctx); err != nil {
			break
		}
		g.Go(func() error {
			checked.Add(1)
			if p.checkSession(gctx, id) {
				started.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Checked: int(checked.Load()), Started: int(started.Load()), Failed: int(failed.Load())}
	if res.Checked > 0 {
		p.log.Debug().Int("checked", res.Checked).Int("started", res.Started).Int("failed", res.Failed).Msg("auto-record pass complete")
	}
	return res
}

func (p *Poller) checkSession(ctx context.Context, id string) bool {
	log := p.log.With().Str("session", id).Logger()

	sess, err := p.sup.Check(ctx, id)
	if err == nil && !sess.IsRecording() {
		sess, err = p.sup.Start(ctx, id)
	}
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		metrics.AutoRecordFailures.Inc()
		count, wrapped := p.recordFailure(id)
		if wrapped {
			log.Warn().Err(err).Int("attempts", count).Msg("retry limit reached, resetting counter")
		} else {
			log.Debug().Err(err).Int("attempts", count).Msg("not live yet")
		}
		return false
	}

	p.resetFailures(id)
	log.Info().Str("output", sess.OutputPath).Msg("auto-record started recording")
	return true
}

// Serve re-syncs with the store and runs CheckOnce every interval while the
// poller is enabled
func (p *Poller) Serve(ctx context.Context) error {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.safePass(ctx)
		}
	}
}

func (p *Poller) safePass(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Msg("auto-record iteration panicked")
		}
	}()

	if loader, ok := p.store.(Loader); ok {
		if added, removed := p.Sync(loader.Load()); added > 0 || removed > 0 {
			p.log.Info().Int("added", added).Int("removed", removed).Msg("tracked pages changed on disk")
		}
	}
	if p.Enabled() {
		p.CheckOnce(ctx)
	}
}

// String names the service in supervisor logs
func (p *Poller) String() string {
	return "autorecord"
}
