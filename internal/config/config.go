package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config represents the WebCorder configuration
type Config struct {
	FFmpeg     FFmpeg     `mapstructure:"ffmpeg"`
	Recording  Recording  `mapstructure:"recording"`
	Monitor    Monitor    `mapstructure:"monitor"`
	AutoRecord AutoRecord `mapstructure:"autorecord"`
	Resolver   Resolver   `mapstructure:"resolver"`
	Log        Log        `mapstructure:"log"`
	Update     Update     `mapstructure:"update"`
	Metrics    Metrics    `mapstructure:"metrics"`
}

// FFmpeg names the external binaries
type FFmpeg struct {
	FFmpeg  string `mapstructure:"ffmpeg"`
	FFprobe string `mapstructure:"ffprobe"`
	FFplay  string `mapstructure:"ffplay"`
}

// Recording contains defaults for new recordings
type Recording struct {
	OutputFolder string        `mapstructure:"output_folder"`
	Container    string        `mapstructure:"container"`
	StopTimeout  time.Duration `mapstructure:"stop_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	ShutdownWait time.Duration `mapstructure:"shutdown_wait"`
}

// Monitor configures the stream health monitor
type Monitor struct {
	Interval     time.Duration `mapstructure:"interval"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	RestartDelay time.Duration `mapstructure:"restart_delay"`
}

// AutoRecord configures the auto-record poller
type AutoRecord struct {
	Interval   time.Duration `mapstructure:"interval"`
	RetryLimit int           `mapstructure:"retry_limit"`
	Workers    int           `mapstructure:"workers"`
	Stagger    time.Duration `mapstructure:"stagger"`
}

// Resolver configures page scraping
type Resolver struct {
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	UserAgent    string        `mapstructure:"user_agent"`
}

// Log configures logging output
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Update configures the release checker
type Update struct {
	Owner         string        `mapstructure:"owner"`
	Repo          string        `mapstructure:"repo"`
	APIBase       string        `mapstructure:"api_base"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

// Metrics configures the Prometheus endpoint. An empty Addr disables it.
type Metrics struct {
	Addr string `mapstructure:"addr"`
}

// DefaultUserAgent is sent when scraping pages and recording streams
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36"

// Load loads the configuration from ~/.webcorder/config.yaml or returns defaults.
// A non-empty path overrides the config file location.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		configDir, err := ConfigDir()
		if err != nil {
			return nil, err
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir)
	}

	setDefaults(v)

	v.SetEnvPrefix("WEBCORDER")
	v.AutomaticEnv()

	// Try to read config file, but don't fail if it doesn't exist
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(path != "" && os.IsNotExist(err)) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if expanded, err := homedir.Expand(cfg.Recording.OutputFolder); err == nil {
		cfg.Recording.OutputFolder = expanded
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("ffmpeg.ffmpeg", "ffmpeg")
	v.SetDefault("ffmpeg.ffprobe", "ffprobe")
	v.SetDefault("ffmpeg.ffplay", "ffplay")

	v.SetDefault("recording.output_folder", "~/Downloads")
	v.SetDefault("recording.container", "mp4")
	v.SetDefault("recording.stop_timeout", "10s")
	v.SetDefault("recording.poll_interval", "500ms")
	v.SetDefault("recording.shutdown_wait", "3s")

	v.SetDefault("monitor.interval", "15s")
	v.SetDefault("monitor.probe_timeout", "5s")
	v.SetDefault("monitor.restart_delay", "5s")

	v.SetDefault("autorecord.interval", "60s")
	v.SetDefault("autorecord.retry_limit", 3)
	v.SetDefault("autorecord.workers", 1)
	v.SetDefault("autorecord.stagger", "800ms")

	v.SetDefault("resolver.fetch_timeout", "10s")
	v.SetDefault("resolver.probe_timeout", "5s")
	v.SetDefault("resolver.user_agent", DefaultUserAgent)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("update.owner", "webcorder")
	v.SetDefault("update.repo", "webcorder")
	v.SetDefault("update.api_base", "https://api.github.com")
	v.SetDefault("update.check_interval", "24h")

	v.SetDefault("metrics.addr", "")
}

// ConfigDir returns the WebCorder configuration directory path
func ConfigDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".webcorder"), nil
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir() error {
	configDir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(configDir, 0755)
}
