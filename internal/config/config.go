// Package config loads and validates the boiler.yaml configuration file.
//
// Missing or malformed configuration never stops the process: the loader
// falls back to defaults for anything it cannot read and rewrites the file
// with the corrected values, so a fresh install starts from a usable state.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// WebConfig describes the read-only document server and the public URLs
// written into generated documents.
type WebConfig struct {
	Enabled      bool   `yaml:"enabled"`
	HostAddress  string `yaml:"host_address"`
	HostPort     int    `yaml:"host_port"`
	RootURL      string `yaml:"root_url"`
	AlertsSuffix string `yaml:"alerts_suffix"`
	FeedSuffix   string `yaml:"feed_suffix"`
	UpdateSuffix string `yaml:"update_suffix"`
}

// AudioConfig controls audio handling for stored alerts.
type AudioConfig struct {
	StoreLocal  bool `yaml:"store_local"`
	TrimHeaders bool `yaml:"trim_headers"`
	BitrateKbps int  `yaml:"bitrate_kbps"`
}

// Config is the full immutable runtime configuration. It is resolved once
// per load and passed explicitly into every component; nothing reads it
// from ambient process state.
type Config struct {
	PollURL             string      `yaml:"poll_url"`
	PollIntervalSeconds int         `yaml:"poll_interval_seconds"`
	PollTimeoutSeconds  int         `yaml:"poll_timeout_seconds"`
	AudioTimeoutSeconds int         `yaml:"audio_timeout_seconds"`
	AlertsDir           string      `yaml:"alerts_dir"`
	ArchiveDir          string      `yaml:"archive_dir"`
	FiltersFile         string      `yaml:"filters_file"`
	DictsFile           string      `yaml:"dicts_file"`
	Web                 WebConfig   `yaml:"web"`
	Audio               AudioConfig `yaml:"audio"`
	DeleteOnExpire      bool        `yaml:"delete_on_expire"`
	TrimEncoderPrefix   bool        `yaml:"trim_encoder_prefix"`
	LogLevel            string      `yaml:"log_level"`
}

// Default returns the configuration used when no file (or a broken file)
// is present.
func Default() Config {
	return Config{
		PollURL:             "https://alerts.globaleas.org/api/v1/alerts/active",
		PollIntervalSeconds: 20,
		PollTimeoutSeconds:  10,
		AudioTimeoutSeconds: 30,
		AlertsDir:           "alerts",
		ArchiveDir:          "archive",
		FiltersFile:         "filters.cfg",
		DictsFile:           "dicts.json",
		Web: WebConfig{
			Enabled:      true,
			HostAddress:  "127.0.0.1",
			HostPort:     8080,
			RootURL:      "http://localhost:8080",
			AlertsSuffix: "/IPAWSOPEN_EAS_SERVICE/rest/alerts",
			FeedSuffix:   "/IPAWSOPEN_EAS_SERVICE/rest/feed",
			UpdateSuffix: "/IPAWSOPEN_EAS_SERVICE/rest/update",
		},
		Audio: AudioConfig{
			StoreLocal:  true,
			TrimHeaders: true,
			BitrateKbps: 192,
		},
		DeleteOnExpire:    false,
		TrimEncoderPrefix: true,
		LogLevel:          "info",
	}
}

// Load reads the configuration file at path, filling any missing or
// unreadable values from defaults. When the resolved configuration differs
// from what the file held, the corrected file is written back so operators
// can see the effective values. Load never fails; degradation is logged.
func Load(path string, logger zerolog.Logger) Config {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		logger.Error().Err(err).Str("path", path).Msg("Configuration file not readable, using defaults")
		writeCorrected(path, cfg, logger)
		return cfg
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		logger.Error().Err(err).Str("path", path).Msg("Configuration file is malformed, resetting to defaults")
		cfg = Default()
		writeCorrected(path, cfg, logger)
		return cfg
	}

	// Detect missing keys by comparing the file contents against the
	// resolved configuration. A difference means defaults were filled in.
	var fromFile map[string]interface{}
	if err := yaml.Unmarshal(raw, &fromFile); err == nil {
		resolved, merr := yaml.Marshal(cfg)
		if merr == nil {
			var normalized map[string]interface{}
			if yaml.Unmarshal(resolved, &normalized) == nil && !reflect.DeepEqual(fromFile, normalized) {
				logger.Warn().Str("path", path).Msg("Missing or invalid config keys detected, rewriting corrected configuration")
				writeCorrected(path, cfg, logger)
			}
		}
	}

	return cfg
}

func writeCorrected(path string, cfg Config, logger zerolog.Logger) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to serialize corrected configuration")
		return
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		logger.Error().Err(err).Str("path", path).Msg("Failed to write corrected configuration")
	}
}

// Validate checks all configuration fields for correctness and returns the
// joined errors, or nil if all fields are valid.
func (c Config) Validate() error {
	var errs []error

	if c.PollURL == "" {
		errs = append(errs, errors.New("poll_url must not be empty"))
	}
	if c.PollIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("invalid poll_interval_seconds %d (must be positive)", c.PollIntervalSeconds))
	}
	if c.PollTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("invalid poll_timeout_seconds %d (must be positive)", c.PollTimeoutSeconds))
	}
	if c.AudioTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("invalid audio_timeout_seconds %d (must be positive)", c.AudioTimeoutSeconds))
	}
	if c.AlertsDir == "" {
		errs = append(errs, errors.New("alerts_dir must not be empty"))
	}
	if c.ArchiveDir == "" && !c.DeleteOnExpire {
		errs = append(errs, errors.New("archive_dir must not be empty when delete_on_expire is false"))
	}
	if c.Web.HostPort <= 0 || c.Web.HostPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid web.host_port %d (must be 1..65535)", c.Web.HostPort))
	}
	if c.Audio.BitrateKbps <= 0 {
		errs = append(errs, fmt.Errorf("invalid audio.bitrate_kbps %d (must be positive)", c.Audio.BitrateKbps))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, pkgerrors.Wrapf(err, "invalid log_level %q", c.LogLevel))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// PollInterval returns the poll cadence as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// PollTimeout returns the upstream request timeout as a duration.
func (c Config) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutSeconds) * time.Second
}

// AudioTimeout returns the audio download timeout as a duration.
func (c Config) AudioTimeout() time.Duration {
	return time.Duration(c.AudioTimeoutSeconds) * time.Second
}

// AlertsURL is the public base URL for per-alert documents.
func (c Config) AlertsURL() string {
	return c.Web.RootURL + c.Web.AlertsSuffix
}

// FeedURL is the public URL of the feed index document.
func (c Config) FeedURL() string {
	return c.Web.RootURL + c.Web.FeedSuffix
}
