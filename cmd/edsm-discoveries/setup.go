package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Sternrassler/edsm-discoveries/internal/config"
	"github.com/Sternrassler/edsm-discoveries/pkg/client"
	"github.com/Sternrassler/edsm-discoveries/pkg/logging"
	"github.com/Sternrassler/edsm-discoveries/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// loadSettings reads and validates the settings file, applying the log level
// flag.
func (o *rootOptions) loadSettings() (*config.Settings, error) {
	settings, err := config.Load(o.configFile)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	if o.logLevel != "" {
		settings.Logging = o.logLevel
	}
	if _, err := logging.ParseLevel(settings.Logging); err != nil {
		return nil, err
	}
	return settings, nil
}

// setupLogging configures the global logger and returns a context carrying it.
func (o *rootOptions) setupLogging(ctx context.Context, settings *config.Settings) context.Context {
	pretty := false
	if f, ok := o.stderr.(*os.File); ok {
		pretty = term.IsTerminal(int(f.Fd()))
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(settings.Logging),
		Pretty: pretty,
		Output: o.stderr,
	})
	return logger.WithContext(ctx)
}

// credentials resolves the EDSM credentials, prompting on a terminal.
func (o *rootOptions) credentials() (config.Credentials, error) {
	var prompter *config.Prompter
	if o.stdin != nil && term.IsTerminal(int(o.stdin.Fd())) {
		prompter = config.NewTerminalPrompter(o.stdin, o.stderr)
	}
	return config.ResolveCredentials(o.credentialsFile, prompter)
}

// newTracker builds the rate-limit tracker, sharing its state through Redis
// when configured. The returned func releases the Redis connection.
func newTracker(ctx context.Context, settings *config.Settings) (*ratelimit.Tracker, func(), error) {
	logger := logging.NewLogger("ratelimit")
	cfg := ratelimit.Config{
		RequestInterval:   settings.RateLimit.RequestDelay,
		WarningThreshold:  settings.RateLimit.WarningThreshold,
		CriticalThreshold: settings.RateLimit.CriticalThreshold,
		ThrottleDelay:     settings.RateLimit.ThrottleDelay,
		MaxWait:           settings.RateLimit.MaxWait,
		StateMaxAge:       settings.RateLimit.StateMaxAge,
	}

	if settings.Redis.URL == "" {
		return ratelimit.NewTracker(nil, cfg, logger), func() {}, nil
	}

	opts, err := redis.ParseURL(settings.Redis.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	redisClient := redis.NewClient(opts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = redisClient.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info().Str("addr", opts.Addr).Msg("Sharing rate limit state through Redis")

	store := ratelimit.NewRedisStore(redisClient, settings.Redis.Key)
	closeFn := func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close Redis client")
		}
	}
	return ratelimit.NewTracker(store, cfg, logger), closeFn, nil
}

// newClient builds the EDSM client for creds.
func newClient(settings *config.Settings, creds config.Credentials, tracker *ratelimit.Tracker) (*client.Client, error) {
	cfg := client.DefaultConfig(creds.Commander, creds.APIKey)
	cfg.BaseURL = settings.EDSM.BaseURL
	cfg.UserAgent = settings.EDSM.UserAgent
	cfg.Timeout = settings.EDSM.Timeout
	cfg.RateLimiter = tracker
	return client.New(cfg)
}

func loggerFrom(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}
