// Package config loads the settings file and the EDSM credentials.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Sternrassler/edsm-discoveries/pkg/client"
	"github.com/Sternrassler/edsm-discoveries/pkg/discovery"
	"github.com/Sternrassler/edsm-discoveries/pkg/export"
	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

// DefaultSettingsFile is read when no --config flag is given.
const DefaultSettingsFile = "edsm.yaml"

// MaxIntervalWidth is the longest log range EDSM accepts in one request.
const MaxIntervalWidth = 7 * 24 * time.Hour

var (
	// ErrInvalidIntervalWidth is returned for widths outside (0, MaxIntervalWidth].
	ErrInvalidIntervalWidth = errors.New("interval width must be positive and at most 7 days")

	// ErrInvalidDate is returned for dates ParseDate cannot read.
	ErrInvalidDate = errors.New("invalid date")
)

// Settings holds every tunable of a run.
type Settings struct {
	// Logging level
	Logging string `yaml:"logging" default:"info"`

	EDSM struct {
		BaseURL   string        `yaml:"base_url" default:"https://www.edsm.net"`
		UserAgent string        `yaml:"user_agent" default:"edsm-discoveries/0.1.0"`
		Timeout   time.Duration `yaml:"timeout" default:"30s"`
	} `yaml:"edsm"`

	Files struct {
		Cache        string `yaml:"cache" default:"first_discoveries_cache.json"`
		TrafficCache string `yaml:"traffic_cache" default:"traffic_cache.json"`
		Output       string `yaml:"output" default:"edsm_first_discoveries_traffic.csv"`
	} `yaml:"files"`

	Schedule struct {
		// StartDate is the first day fetched, YYYY-MM-DD.
		StartDate         string        `yaml:"start_date" default:"2025-01-01"`
		AlignWeeks        bool          `yaml:"align_weeks" default:"true"`
		IntervalWidth     time.Duration `yaml:"interval_width" default:"168h"`
		SafetyWindow      time.Duration `yaml:"safety_window" default:"336h"`
		HeavyRunThreshold int           `yaml:"heavy_run_threshold" default:"360"`
		HeavyRunDelay     time.Duration `yaml:"heavy_run_delay" default:"10s"`
	} `yaml:"schedule"`

	RateLimit struct {
		RequestDelay      time.Duration `yaml:"request_delay" default:"400ms"`
		WarningThreshold  int           `yaml:"warning_threshold" default:"20"`
		CriticalThreshold int           `yaml:"critical_threshold" default:"5"`
		ThrottleDelay     time.Duration `yaml:"throttle_delay" default:"2s"`
		MaxWait           time.Duration `yaml:"max_wait" default:"15m"`
		StateMaxAge       time.Duration `yaml:"state_max_age" default:"1h"`
	} `yaml:"rate_limit"`

	Retry client.RetryPolicy `yaml:"retry"`

	Traffic struct {
		Enabled    bool          `yaml:"enabled" default:"false"`
		MaxAge     time.Duration `yaml:"max_age" default:"168h"`
		FlushEvery int           `yaml:"flush_every" default:"25"`
	} `yaml:"traffic"`

	Export struct {
		Sort string `yaml:"sort" default:"date"`
	} `yaml:"export"`

	// Redis keeps rate-limit state across runs (optional).
	Redis struct {
		URL string `yaml:"url"`
		Key string `yaml:"key" default:"edsm:rate_limit:state"`
	} `yaml:"redis,omitempty"`
}

// Validate checks the settings.
func (s *Settings) Validate() error {
	if w := s.Schedule.IntervalWidth; w <= 0 || w > MaxIntervalWidth {
		return fmt.Errorf("%w (got %s)", ErrInvalidIntervalWidth, w)
	}
	if _, err := s.Start(); err != nil {
		return err
	}
	if s.Schedule.SafetyWindow < 0 {
		return fmt.Errorf("safety window must not be negative (got %s)", s.Schedule.SafetyWindow)
	}
	if s.RateLimit.RequestDelay < 0 {
		return fmt.Errorf("request delay must not be negative (got %s)", s.RateLimit.RequestDelay)
	}
	if s.EDSM.UserAgent == "" {
		return fmt.Errorf("user agent is required")
	}
	if s.Files.Cache == "" {
		return fmt.Errorf("cache file is required")
	}
	if _, err := export.ParseSortOrder(s.Export.Sort); err != nil {
		return err
	}
	for name, b := range map[string]client.Backoff{
		"transient":    s.Retry.Transient,
		"rate_limited": s.Retry.RateLimited,
		"malformed":    s.Retry.Malformed,
	} {
		if b.MaxAttempts < 1 {
			return fmt.Errorf("retry.%s.max_attempts must be at least 1 (got %d)", name, b.MaxAttempts)
		}
	}
	if s.Retry.Jitter < 0 || s.Retry.Jitter >= 1 {
		return fmt.Errorf("retry.jitter must be in [0, 1) (got %v)", s.Retry.Jitter)
	}
	return nil
}

// Start returns the parsed start date.
func (s *Settings) Start() (time.Time, error) {
	return ParseDate(s.Schedule.StartDate)
}

// ParseDate parses YYYY-MM-DD or YYYY-MM-DD HH:MM:SS as UTC.
func ParseDate(value string) (time.Time, error) {
	for _, layout := range []string{time.DateOnly, discovery.DateLayout, time.RFC3339} {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
}

// Load loads settings from a YAML file. A missing file yields the defaults.
func Load(path string) (*Settings, error) {
	if path == "" {
		path = DefaultSettingsFile
	}

	settings := &Settings{}
	if err := defaults.Set(settings); err != nil {
		return nil, err
	}
	settings.Retry = client.DefaultRetryPolicy()

	// Try to read the file, but allow it to not exist
	yamlFile, err := os.ReadFile(path) //nolint:gosec // User-provided config file path
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(yamlFile, settings); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return settings, nil
}
