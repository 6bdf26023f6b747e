// Package updater checks GitHub releases for a newer WebCorder and installs it.
package updater

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/webcorder/webcorder/internal/session"
)

// SettingsStore persists the last check time and skipped versions.
// *session.Store satisfies it.
type SettingsStore interface {
	Load() session.Document
	UpdateSettings(fn func(settings *session.Settings)) error
}

// Options configures a Manager
type Options struct {
	// Current is the running version
	Current       string
	CheckInterval time.Duration
	// DownloadDir defaults to <tmp>/webcorder_update
	DownloadDir string
}

// Update describes an available release
type Update struct {
	Version string
	Release *Release
	Asset   Asset
	// HasAsset is false when the release carries nothing installable
	HasAsset bool
}

// Manager ties the release client to the persisted update settings
type Manager struct {
	client *Client
	store  SettingsStore
	opts   Options
	log    zerolog.Logger
	now    func() time.Time
}

// NewManager creates an update manager
func NewManager(client *Client, store SettingsStore, opts Options, log zerolog.Logger) *Manager {
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = 24 * time.Hour
	}
	if opts.DownloadDir == "" {
		opts.DownloadDir = filepath.Join(os.TempDir(), "webcorder_update")
	}
	return &Manager{
		client: client,
		store:  store,
		opts:   opts,
		log:    log.With().Str("component", "updater").Logger(),
		now:    time.Now,
	}
}

// Current returns the running version
func (m *Manager) Current() string {
	return m.opts.Current
}

// Due reports whether the check interval has passed since the last check
func (m *Manager) Due() bool {
	return ShouldCheck(m.store.Load().Settings.LastUpdateCheck, m.opts.CheckInterval, m.now())
}

// Check looks for a newer release. It returns nil without contacting GitHub
// when the last check is more recent than the check interval, and nil when the
// latest release is not newer or was skipped. force ignores both the interval
// and skipped versions.
func (m *Manager) Check(ctx context.Context, force bool) (*Update, error) {
	settings := m.store.Load().Settings
	now := m.now()

	if !force && !ShouldCheck(settings.LastUpdateCheck, m.opts.CheckInterval, now) {
		m.log.Debug().Time("last_check", *settings.LastUpdateCheck).Msg("update check not due")
		return nil, nil
	}

	rel, err := m.client.Latest(ctx)
	if err != nil {
		return nil, err
	}

	if err := m.store.UpdateSettings(func(s *session.Settings) {
		s.LastUpdateCheck = &now
	}); err != nil {
		m.log.Warn().Err(err).Msg("failed to record update check time")
	}

	version := rel.Version()
	if !IsNewer(version, m.opts.Current) {
		m.log.Debug().Str("latest", version).Str("current", m.opts.Current).Msg("already up to date")
		return nil, nil
	}
	if !force && settings.IsSkipped(version) {
		m.log.Info().Str("version", version).Msg("version was skipped")
		return nil, nil
	}

	asset, ok := InstallerAsset(rel)
	return &Update{Version: version, Release: rel, Asset: asset, HasAsset: ok}, nil
}

// Skip stops Check from offering version again
func (m *Manager) Skip(version string) error {
	if err := m.store.UpdateSettings(func(s *session.Settings) {
		if !s.IsSkipped(version) {
			s.SkippedVersions = append(s.SkippedVersions, version)
		}
	}); err != nil {
		return fmt.Errorf("failed to skip version: %w", err)
	}
	return nil
}

// Download fetches the update's installer into the download directory
func (m *Manager) Download(ctx context.Context, upd *Update, progress Progress) (string, error) {
	if upd == nil || !upd.HasAsset {
		return "", fmt.Errorf("%w: release has no installer asset", ErrUnsupportedInstaller)
	}
	m.log.Info().Str("version", upd.Version).Str("asset", upd.Asset.Name).Msg("downloading update")
	return m.client.Download(ctx, upd.Asset.DownloadURL, m.opts.DownloadDir, progress)
}

// Clean removes downloaded installers
func (m *Manager) Clean() error {
	if err := os.RemoveAll(m.opts.DownloadDir); err != nil {
		return fmt.Errorf("failed to clean update downloads: %w", err)
	}
	return nil
}
