// Package daemon runs the long-lived WebCorder services under a suture
// supervisor tree: the recording reaper, the health monitor, the auto-record
// poller and the optional metrics endpoint.
package daemon

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
)

// Stopper finishes every in-flight recording on shutdown.
// *recorder.Supervisor satisfies it.
type Stopper interface {
	StopAll(ctx context.Context, grace time.Duration)
}

// Options configures the tree
type Options struct {
	// ShutdownWait is how long recordings get to finish after quit before
	// they are killed
	ShutdownWait time.Duration
	// ShutdownTimeout bounds how long suture waits for each service to return
	ShutdownTimeout time.Duration

	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration

	// MetricsAddr enables the Prometheus endpoint when non-empty
	MetricsAddr string
}

func (o *Options) setDefaults() {
	if o.ShutdownWait <= 0 {
		o.ShutdownWait = 3 * time.Second
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 10 * time.Second
	}
	if o.FailureThreshold == 0 {
		o.FailureThreshold = 5
	}
	if o.FailureDecay == 0 {
		o.FailureDecay = 30
	}
	if o.FailureBackoff == 0 {
		o.FailureBackoff = 15 * time.Second
	}
}

// Daemon owns the supervisor tree
type Daemon struct {
	root    *suture.Supervisor
	stopper Stopper
	metrics *MetricsService
	opts    Options
	log     zerolog.Logger
}

// New builds the tree. Services are added with Add before Run.
func New(stopper Stopper, opts Options, log zerolog.Logger) *Daemon {
	opts.setDefaults()
	log = log.With().Str("component", "daemon").Logger()

	root := suture.New("webcorder", suture.Spec{
		EventHook:        eventHook(log),
		FailureThreshold: opts.FailureThreshold,
		FailureDecay:     opts.FailureDecay,
		FailureBackoff:   opts.FailureBackoff,
		Timeout:          opts.ShutdownTimeout,
	})

	d := &Daemon{root: root, stopper: stopper, opts: opts, log: log}
	if opts.MetricsAddr != "" {
		d.metrics = NewMetricsService(opts.MetricsAddr, opts.ShutdownTimeout)
		root.Add(d.metrics)
	}
	return d
}

// Add supervises svc
func (d *Daemon) Add(svc suture.Service) suture.ServiceToken {
	return d.root.Add(svc)
}

// Metrics returns the metrics service, or nil when disabled
func (d *Daemon) Metrics() *MetricsService {
	return d.metrics
}

// Run serves the tree until ctx is cancelled, then stops every recording.
// Cancellation is a clean exit and returns nil.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.Info().Msg("daemon started")
	err := d.root.Serve(ctx)

	if report, rerr := d.root.UnstoppedServiceReport(); rerr == nil {
		for _, svc := range report {
			d.log.Warn().Str("service", svc.Name).Msg("service did not stop in time")
		}
	}

	// The services' context is gone; shutdown gets a fresh one.
	stopCtx, cancel := context.WithTimeout(context.Background(), d.opts.ShutdownWait+time.Second)
	defer cancel()
	d.stopper.StopAll(stopCtx, d.opts.ShutdownWait)
	d.log.Info().Msg("daemon stopped")

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// eventHook forwards suture's lifecycle events to zerolog
func eventHook(log zerolog.Logger) suture.EventHook {
	return func(e suture.Event) {
		ev := log.Warn()
		switch e.Type() {
		case suture.EventTypeServicePanic, suture.EventTypeStopTimeout:
			ev = log.Error()
		case suture.EventTypeResume:
			ev = log.Info()
		}
		ev.Fields(e.Map()).Msg(e.String())
	}
}
