// Package recorder supervises capture processes for the sessions in a
// registry: it resolves pages, spawns ffmpeg, stops it and reaps it.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/webcorder/webcorder/internal/ffmpeg"
	"github.com/webcorder/webcorder/internal/metrics"
	"github.com/webcorder/webcorder/internal/resolver"
	"github.com/webcorder/webcorder/internal/session"
)

// Resolver turns a page URL into a direct stream URL
type Resolver interface {
	Resolve(ctx context.Context, pageURL string) (string, error)
}

// Capture is a running capture process as seen by the supervisor
type Capture interface {
	session.Process
	Lines() <-chan string
	Done() <-chan struct{}
}

// Spawner launches capture processes
type Spawner interface {
	Spawn(req ffmpeg.RecordRequest) (Capture, error)
}

// RunnerSpawner adapts an ffmpeg.Runner to Spawner
type RunnerSpawner struct {
	Runner *ffmpeg.Runner
}

// Spawn starts an ffmpeg capture through the runner
func (s RunnerSpawner) Spawn(req ffmpeg.RecordRequest) (Capture, error) {
	p, err := s.Runner.SpawnRecord(req)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Watcher is told when a recording starts and ends. The health monitor
// implements it.
type Watcher interface {
	Watch(id string)
	Unwatch(id string)
}

// Outcome classifies the result of Poll
type Outcome int

const (
	// OutcomeNone means the session is not recording
	OutcomeNone Outcome = iota
	OutcomeRunning
	OutcomeFinished
	OutcomeEmptyOutput
	OutcomeAbnormalExit
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRunning:
		return "running"
	case OutcomeFinished:
		return metrics.OutcomeFinished
	case OutcomeEmptyOutput:
		return metrics.OutcomeEmptyOutput
	case OutcomeAbnormalExit:
		return metrics.OutcomeAbnormal
	default:
		return "none"
	}
}

// Options configures a Supervisor
type Options struct {
	OutputFolder string
	Container    string
	UserAgent    string

	// StopTimeout is how long a quit process may take before it is killed
	StopTimeout time.Duration
	// PollInterval is the reaper period used by Serve
	PollInterval time.Duration
	// DrainTimeout bounds how long Poll waits for the last stderr lines
	DrainTimeout time.Duration

	// Workers and Stagger bound CheckAll
	Workers int
	Stagger time.Duration

	// MaxDuration caps each recording; zero means unlimited
	MaxDuration time.Duration
	// Volume applies an audio gain to new recordings when set
	Volume *float64
}

func (o *Options) setDefaults() {
	if o.Container == "" {
		o.Container = "mp4"
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 10 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = 2 * time.Second
	}
	if o.Workers <= 0 {
		o.Workers = 5
	}
	if o.Stagger < 0 {
		o.Stagger = 0
	}
}

// tailLines is how many stderr lines are kept for an ExitError
const tailLines = 20

type drain struct {
	done chan struct{}

	mu   sync.Mutex
	tail []string
}

func (d *drain) add(line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tail = append(d.tail, line)
	if len(d.tail) > tailLines {
		d.tail = d.tail[len(d.tail)-tailLines:]
	}
}

func (d *drain) output() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return strings.Join(d.tail, "\n")
}

// Supervisor owns every capture process. All session state lives in the
// registry; the supervisor looks sessions up by id on every call.
type Supervisor struct {
	registry *session.Registry
	resolver Resolver
	spawner  Spawner
	log      zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	opts    Options
	watcher Watcher
	drains  map[session.Process]*drain
}

// New creates a supervisor
func New(registry *session.Registry, res Resolver, spawner Spawner, opts Options, log zerolog.Logger) *Supervisor {
	opts.setDefaults()
	return &Supervisor{
		registry: registry,
		resolver: res,
		spawner:  spawner,
		log:      log.With().Str("component", "recorder").Logger(),
		now:      time.Now,
		opts:     opts,
		drains:   make(map[session.Process]*drain),
	}
}

// SetWatcher registers the component notified about recording starts and stops
func (s *Supervisor) SetWatcher(w Watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watcher = w
}

// SetOutput changes the folder and container used by future recordings
func (s *Supervisor) SetOutput(folder, container string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.OutputFolder = folder
	if container != "" {
		s.opts.Container = container
	}
}

// SetCapture changes the duration cap and audio gain of future recordings
func (s *Supervisor) SetCapture(maxDuration time.Duration, volume *float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.MaxDuration = maxDuration
	s.opts.Volume = volume
}

func (s *Supervisor) options() Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts
}

func (s *Supervisor) notify(id string, watch bool) {
	s.mu.Lock()
	w := s.watcher
	s.mu.Unlock()
	if w == nil {
		return
	}
	if watch {
		w.Watch(id)
	} else {
		w.Unwatch(id)
	}
}

func (s *Supervisor) sessionLog(sess session.Session) zerolog.Logger {
	model := resolver.ModelName(sess.SourceURL)
	if model == "" {
		model = "stream"
	}
	return s.log.With().Str("session", sess.ID).Str("model", model).Logger()
}

// Registry returns the registry the supervisor acts on
func (s *Supervisor) Registry() *session.Registry {
	return s.registry
}

// Check resolves the session's page and records the result: Live with the
// resolved URL, or No stream with the URL cleared. Recording sessions are left
// untouched.
func (s *Supervisor) Check(ctx context.Context, id string) (session.Session, error) {
	sess, ok := s.registry.Get(id)
	if !ok {
		return session.Session{}, fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	if sess.IsRecording() {
		return sess, nil
	}

	if _, err := s.registry.Update(id, func(cur *session.Session) {
		cur.Status = session.StatusResolving
	}); err != nil {
		return session.Session{}, err
	}

	resolved, resolveErr := s.resolver.Resolve(ctx, sess.SourceURL)

	updated, err := s.registry.Update(id, func(cur *session.Session) {
		if cur.Process != nil {
			return
		}
		if resolveErr != nil {
			cur.Status = session.StatusNoStream
			cur.ResolvedURL = ""
			return
		}
		cur.Status = session.StatusLive
		cur.ResolvedURL = resolved
	})
	if err != nil {
		return session.Session{}, err
	}

	log := s.sessionLog(updated)
	if resolveErr != nil {
		log.Debug().Err(resolveErr).Msg("no stream")
		if !errors.Is(resolveErr, ErrNoStream) {
			resolveErr = fmt.Errorf("%w: %w", ErrNoStream, resolveErr)
		}
		return updated, resolveErr
	}
	log.Info().Str("resolved", resolved).Msg("stream is live")
	return updated, nil
}

// Start begins recording the session. It is a no-op when the session is
// already recording. A cached URL is only reused while the session is Live;
// otherwise the page is resolved again.
func (s *Supervisor) Start(ctx context.Context, id string) (session.Session, error) {
	sess, ok := s.registry.Get(id)
	if !ok {
		return session.Session{}, fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	if sess.IsRecording() {
		return sess, nil
	}

	streamURL := ""
	if sess.Status == session.StatusLive && sess.HasLiveURL() {
		streamURL = sess.ResolvedURL
	} else {
		checked, err := s.Check(ctx, id)
		if err != nil {
			return checked, err
		}
		if checked.IsRecording() {
			return checked, nil
		}
		streamURL = checked.ResolvedURL
		sess = checked
	}
	if streamURL == "" {
		return sess, fmt.Errorf("%w: empty stream url", ErrNoStream)
	}

	opts := s.options()
	log := s.sessionLog(sess)

	outPath, fellBack := OutputPath(opts.OutputFolder, opts.Container, sess.SourceURL, s.now())
	if fellBack {
		log.Warn().Str("folder", opts.OutputFolder).Msg("could not create model folder, recording into output folder")
	}

	headers := map[string]string{"Referer": sess.SourceURL}
	if opts.UserAgent != "" {
		headers["User-Agent"] = opts.UserAgent
	}

	proc, err := s.spawner.Spawn(ffmpeg.RecordRequest{
		URL:      streamURL,
		Output:   outPath,
		Headers:  headers,
		Duration: opts.MaxDuration,
		Volume:   opts.Volume,
	})
	if err != nil {
		metrics.LaunchFailures.Inc()
		failed, _ := s.registry.Update(id, func(cur *session.Session) {
			cur.Status = session.StatusError
		})
		log.Error().Err(err).Msg("could not start ffmpeg")
		return failed, fmt.Errorf("failed to start recording: %w", err)
	}

	d := &drain{done: make(chan struct{})}
	s.mu.Lock()
	s.drains[proc] = d
	s.mu.Unlock()
	go s.drainStderr(proc, d, log)

	started, err := s.registry.BeginRecording(id, proc, outPath)
	if err != nil {
		// Lost a race with another start, or the session was removed.
		s.takeDrain(proc)
		_ = proc.Kill()
		if errors.Is(err, session.ErrAlreadyRecording) {
			return started, nil
		}
		return started, err
	}

	metrics.RecordStarted()
	s.notify(id, true)
	log.Info().Str("output", outPath).Int("pid", proc.PID()).Msg("recording started")
	return started, nil
}

// drainStderr logs ffmpeg output until EOF, hiding reconnect noise
func (s *Supervisor) drainStderr(proc Capture, d *drain, log zerolog.Logger) {
	defer close(d.done)

	for line := range proc.Lines() {
		if IsNoise(line) {
			continue
		}
		d.add(line)
		log.Warn().Str("ffmpeg", line).Msg("ffmpeg output")
	}
}

func (s *Supervisor) takeDrain(proc session.Process) *drain {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.drains[proc]
	delete(s.drains, proc)
	return d
}

// Stop asks the session's capture process to finish and marks the session
// Idle. Stopping a session that is not recording is a no-op. The process is
// killed in the background if it has not exited within StopTimeout.
func (s *Supervisor) Stop(id string) (session.Session, error) {
	sess, ok := s.registry.Get(id)
	if !ok {
		return session.Session{}, fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	if !sess.IsRecording() {
		return sess, nil
	}

	proc := sess.Process
	log := s.sessionLog(sess)

	if err := proc.Quit(); err != nil {
		log.Debug().Err(err).Msg("graceful quit failed, killing")
		if err := proc.Kill(); err != nil {
			log.Warn().Err(err).Msg("failed to kill ffmpeg")
		}
	}

	stopped, ended := s.registry.EndRecording(id, proc, session.StatusIdle)
	if !ended {
		return stopped, nil
	}
	s.takeDrain(proc)
	metrics.RecordFinished(metrics.OutcomeStopped)
	s.notify(id, false)
	log.Info().Str("output", sess.OutputPath).Msg("recording stopped")

	go s.escalate(proc, s.options().StopTimeout, log)
	return stopped, nil
}

// escalate kills proc when it ignores the quit request
func (s *Supervisor) escalate(proc session.Process, timeout time.Duration, log zerolog.Logger) {
	capture, ok := proc.(Capture)
	if !ok {
		return
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-capture.Done():
	case <-timer.C:
		log.Warn().Int("pid", proc.PID()).Msg("ffmpeg did not exit after quit, killing")
		_ = proc.Kill()
	}
}

// Poll checks without blocking whether the session's capture process has
// exited. On exit it detaches the process and classifies the result:
// a clean exit with data is OutcomeFinished, a clean exit with an empty or
// missing file is OutcomeEmptyOutput (ErrEmptyOutput) and a non-zero exit is
// OutcomeAbnormalExit (*ExitError, session status Error).
func (s *Supervisor) Poll(id string) (Outcome, error) {
	sess, ok := s.registry.Get(id)
	if !ok {
		return OutcomeNone, fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	if !sess.IsRecording() {
		return OutcomeNone, nil
	}

	proc := sess.Process
	code, exited := proc.Exited()
	if !exited {
		return OutcomeRunning, nil
	}

	d := s.takeDrain(proc)
	if d != nil {
		select {
		case <-d.done:
		case <-time.After(s.options().DrainTimeout):
		}
	}

	status := session.StatusIdle
	if code != 0 {
		status = session.StatusError
	}
	ended, ok := s.registry.EndRecording(id, proc, status)
	if !ok {
		return OutcomeNone, nil
	}
	s.notify(id, false)

	log := s.sessionLog(ended)
	outcome, size, err := classify(code, sess.OutputPath, d)
	metrics.RecordFinished(outcome.String())

	switch outcome {
	case OutcomeFinished:
		log.Info().Str("output", sess.OutputPath).Int64("kb", size/1024).Msg("recording finished")
	case OutcomeEmptyOutput:
		log.Error().Str("output", sess.OutputPath).Msg("recording finished, but file is empty (0 KB)")
	default:
		log.Warn().Int("code", code).Msg("ffmpeg exited abnormally")
	}
	return outcome, err
}

func classify(code int, outputPath string, d *drain) (Outcome, int64, error) {
	if code != 0 {
		exitErr := &ExitError{Code: code}
		if d != nil {
			exitErr.Output = d.output()
		}
		return OutcomeAbnormalExit, 0, exitErr
	}

	info, err := os.Stat(outputPath)
	if err != nil || info.Size() <= 0 {
		return OutcomeEmptyOutput, 0, fmt.Errorf("%w: %s", ErrEmptyOutput, outputPath)
	}
	return OutcomeFinished, info.Size(), nil
}

// IsActive reports whether the session currently has a running capture process
func (s *Supervisor) IsActive(id string) bool {
	sess, ok := s.registry.Get(id)
	if !ok || !sess.IsRecording() {
		return false
	}
	_, exited := sess.Process.Exited()
	return !exited
}

// PollAll polls every recording session once
func (s *Supervisor) PollAll() {
	for _, sess := range s.registry.Recording() {
		if _, err := s.Poll(sess.ID); err != nil && !errors.Is(err, session.ErrNotFound) {
			s.log.Debug().Err(err).Str("session", sess.ID).Msg("recording ended with error")
		}
	}
}

// Serve reaps finished capture processes until ctx is cancelled
func (s *Supervisor) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.options().PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.PollAll()
		}
	}
}

func (s *Supervisor) String() string {
	return "recorder"
}

// StopAll stops every recording, waits up to grace for the processes to exit
// and kills whatever is left
func (s *Supervisor) StopAll(ctx context.Context, grace time.Duration) {
	var captures []Capture
	for _, sess := range s.registry.Recording() {
		if c, ok := sess.Process.(Capture); ok {
			captures = append(captures, c)
		}
		if _, err := s.Stop(sess.ID); err != nil {
			s.log.Warn().Err(err).Str("session", sess.ID).Msg("failed to stop recording")
		}
	}
	if len(captures) == 0 {
		return
	}

	deadline := time.NewTimer(grace)
	defer deadline.Stop()

wait:
	for _, c := range captures {
		select {
		case <-c.Done():
		case <-deadline.C:
			break wait
		case <-ctx.Done():
			break wait
		}
	}

	for _, c := range captures {
		if _, exited := c.Exited(); !exited {
			s.log.Warn().Int("pid", c.PID()).Msg("killing ffmpeg at shutdown")
			_ = c.Kill()
		}
	}
}
