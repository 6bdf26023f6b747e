package cmd

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/webcorder/webcorder/internal/autorecord"
	"github.com/webcorder/webcorder/internal/config"
	"github.com/webcorder/webcorder/internal/ffmpeg"
	"github.com/webcorder/webcorder/internal/logging"
	"github.com/webcorder/webcorder/internal/monitor"
	"github.com/webcorder/webcorder/internal/recorder"
	"github.com/webcorder/webcorder/internal/resolver"
	"github.com/webcorder/webcorder/internal/session"
	"github.com/webcorder/webcorder/internal/updater"
)

// app holds the components a command needs, built from config and the
// persisted document
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	store    *session.Store
	doc      session.Document
	registry *session.Registry
	resolver *resolver.Resolver
	runner   *ffmpeg.Runner
	sup      *recorder.Supervisor
	monitor  *monitor.Monitor
	poller   *autorecord.Poller
}

func newApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	Debug("Config loaded successfully")

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Log.Level
	logCfg.Format = cfg.Log.Format
	if debug {
		logCfg.Level = "debug"
	}
	log := logging.New(logCfg)

	dir, err := session.DefaultDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get data directory: %w", err)
	}
	store, err := session.NewStore(dir, session.Settings{
		OutputFolder: cfg.Recording.OutputFolder,
		Container:    cfg.Recording.Container,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open data store: %w", err)
	}
	doc := store.Load()

	registry := session.NewRegistry()
	for _, u := range doc.URLs() {
		registry.Add(u, doc.Models[u].AutoRecord)
	}

	res := resolver.New(resolver.Options{
		UserAgent:    cfg.Resolver.UserAgent,
		FetchTimeout: cfg.Resolver.FetchTimeout,
		ProbeTimeout: cfg.Resolver.ProbeTimeout,
	}, log)

	runner := ffmpeg.NewRunner(cfg.FFmpeg.FFmpeg, cfg.FFmpeg.FFprobe, cfg.FFmpeg.FFplay, log)

	sup := recorder.New(registry, res, recorder.RunnerSpawner{Runner: runner}, recorder.Options{
		OutputFolder: doc.Settings.OutputFolder,
		Container:    doc.Settings.Container,
		UserAgent:    cfg.Resolver.UserAgent,
		StopTimeout:  cfg.Recording.StopTimeout,
		PollInterval: cfg.Recording.PollInterval,
		Workers:      cfg.AutoRecord.Workers,
		Stagger:      cfg.AutoRecord.Stagger,
	}, log)

	// Health probes hit CDNs, not pages, so they keep their own breakers
	probes := resolver.NewFetcher("monitor", cfg.Resolver.UserAgent, nil, log)
	mon := monitor.New(registry, sup, probes, monitor.Options{
		Interval:     cfg.Monitor.Interval,
		ProbeTimeout: cfg.Monitor.ProbeTimeout,
		RestartDelay: cfg.Monitor.RestartDelay,
	}, log)
	sup.SetWatcher(mon)

	poller := autorecord.New(registry, sup, store, autorecord.Options{
		Interval:   cfg.AutoRecord.Interval,
		RetryLimit: cfg.AutoRecord.RetryLimit,
		Workers:    cfg.AutoRecord.Workers,
		Stagger:    cfg.AutoRecord.Stagger,
	}, log)
	poller.Restore(doc.Settings.AutoRecordEnabled)

	return &app{
		cfg:      cfg,
		log:      log,
		store:    store,
		doc:      doc,
		registry: registry,
		resolver: res,
		runner:   runner,
		sup:      sup,
		monitor:  mon,
		poller:   poller,
	}, nil
}

// sessionFor returns the registry session tracking url, adding an untracked
// one when the url is not in the store
func (a *app) sessionFor(url string) session.Session {
	if s, ok := a.registry.FindByURL(url); ok {
		return s
	}
	return a.registry.Add(url, false)
}

// trackedSession is like sessionFor but requires the url to be tracked
func (a *app) trackedSession(url string) (session.Session, error) {
	s, ok := a.registry.FindByURL(url)
	if !ok {
		return session.Session{}, fmt.Errorf("%s is not tracked, add it first", url)
	}
	return s, nil
}

func (a *app) updateManager() (*updater.Manager, updater.TokenSource, error) {
	configDir, err := config.ConfigDir()
	if err != nil {
		return nil, updater.SourceNone, fmt.Errorf("failed to get config directory: %w", err)
	}
	token, source := updater.ResolveToken(updater.DefaultTokenLookup(configDir))
	client := updater.NewClient(a.cfg.Update.APIBase, a.cfg.Update.Owner, a.cfg.Update.Repo, token)
	return updater.NewManager(client, a.store, updater.Options{
		Current:       Version,
		CheckInterval: a.cfg.Update.CheckInterval,
	}, a.log), source, nil
}
