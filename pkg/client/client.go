// Package client provides the EDSM HTTP client with rate limiting, error
// classification and retry policy.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/edsm-discoveries/pkg/discovery"
	"github.com/Sternrassler/edsm-discoveries/pkg/interval"
	"github.com/Sternrassler/edsm-discoveries/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EDSM endpoints used by the client.
const (
	DefaultBaseURL = "https://www.edsm.net"

	EndpointLogs    = "/api-logs-v1/get-logs"
	EndpointTraffic = "/api-system-v1/traffic"
)

// EDSM message numbers of the logs API.
const (
	msgNumOK              = 100
	msgNumMissingCmdr     = 201
	msgNumMissingAPIKey   = 202
	msgNumCmdrKeyNotFound = 203
)

// Prometheus metrics for EDSM client operations.
var (
	edsmRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edsm_requests_total",
		Help: "Total EDSM requests by endpoint and status",
	}, []string{"endpoint", "status"})

	edsmRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "edsm_request_duration_seconds",
		Help:    "EDSM request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	edsmErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edsm_errors_total",
		Help: "Total EDSM errors by kind",
	}, []string{"kind"})
)

// Client is the EDSM API client for one commander.
type Client struct {
	httpClient  *http.Client
	baseURL     *url.URL
	rateLimiter *ratelimit.Tracker
	config      Config
	logger      zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the EDSM API (DefaultBaseURL unless testing)
	BaseURL string

	// Commander name and API key, from the EDSM account settings
	Commander string
	APIKey    string

	// User-Agent header
	// Format: "AppName/Version (contact)"
	UserAgent string

	// Timeout per HTTP request
	Timeout time.Duration

	// RateLimiter paces requests; nil selects ratelimit.DefaultConfig in memory
	RateLimiter *ratelimit.Tracker
}

// DefaultConfig returns a default configuration for the given credentials.
func DefaultConfig(commander, apiKey string) Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		Commander: commander,
		APIKey:    apiKey,
		UserAgent: "edsm-discoveries/0.1.0",
		Timeout:   30 * time.Second,
	}
}

// New creates a new EDSM client.
func New(cfg Config) (*Client, error) {
	if cfg.Commander == "" {
		return nil, fmt.Errorf("commander is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url scheme must be http or https, got %q", base.Scheme)
	}

	logger := log.With().Str("component", "edsm-client").Logger()

	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimiter = ratelimit.NewTracker(nil, ratelimit.DefaultConfig(), logger)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:     base,
		rateLimiter: rateLimiter,
		config:      cfg,
		logger:      logger,
	}, nil
}

// Commander returns the commander the client authenticates as.
func (c *Client) Commander() string {
	return c.config.Commander
}

// RateLimiter returns the tracker pacing this client's requests.
func (c *Client) RateLimiter() *ratelimit.Tracker {
	return c.rateLimiter
}

// SetHTTPClient replaces the underlying HTTP client, e.g. to add a proxy or
// a custom transport.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

type logsResponse struct {
	MsgNum int        `json:"msgnum"`
	Msg    string     `json:"msg"`
	Logs   []logEntry `json:"logs"`
}

type logEntry struct {
	System        string `json:"system"`
	SystemID      int64  `json:"systemId"`
	FirstDiscover bool   `json:"firstDiscover"`
	Date          string `json:"date"`
}

// FetchDiscoveries returns the systems the commander first discovered within
// iv. It performs exactly one request; retrying is up to the caller.
func (c *Client) FetchDiscoveries(ctx context.Context, iv interval.Interval) ([]discovery.Record, error) {
	query := url.Values{}
	query.Set("commanderName", c.config.Commander)
	query.Set("apiKey", c.config.APIKey)
	query.Set("startDateTime", iv.Start.UTC().Format(discovery.DateLayout))
	query.Set("endDateTime", iv.End.UTC().Format(discovery.DateLayout))
	query.Set("showId", "1")

	var resp logsResponse
	if err := c.get(ctx, EndpointLogs, query, &resp); err != nil {
		return nil, err
	}

	switch resp.MsgNum {
	case msgNumOK:
	case msgNumMissingCmdr, msgNumMissingAPIKey, msgNumCmdrKeyNotFound:
		return nil, c.fail(&Error{
			Kind:       KindAuthInvalid,
			Endpoint:   EndpointLogs,
			StatusCode: http.StatusOK,
			MsgNum:     resp.MsgNum,
			Message:    resp.Msg,
		})
	default:
		return nil, c.fail(&Error{
			Kind:       KindMalformedResponse,
			Endpoint:   EndpointLogs,
			StatusCode: http.StatusOK,
			MsgNum:     resp.MsgNum,
			Message:    "unexpected answer: " + resp.Msg,
		})
	}

	records := make([]discovery.Record, 0, len(resp.Logs))
	for _, entry := range resp.Logs {
		if !entry.FirstDiscover {
			continue
		}
		date, err := time.ParseInLocation(discovery.DateLayout, entry.Date, time.UTC)
		if err != nil {
			return nil, c.fail(&Error{
				Kind:       KindMalformedResponse,
				Endpoint:   EndpointLogs,
				StatusCode: http.StatusOK,
				Message:    fmt.Sprintf("log date of %q", entry.System),
				Err:        err,
			})
		}
		// endDateTime is inclusive on the EDSM side
		if !iv.Contains(date) {
			continue
		}
		records = append(records, discovery.Record{
			SystemName:    entry.System,
			SystemID:      entry.SystemID,
			DiscoveryDate: date,
		})
	}

	c.logger.Debug().
		Str("interval", iv.Key()).
		Int("logs", len(resp.Logs)).
		Int("first_discoveries", len(records)).
		Msg("Fetched discoveries")

	return records, nil
}

type trafficResponse struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Traffic struct {
		Total int `json:"total"`
		Week  int `json:"week"`
		Day   int `json:"day"`
	} `json:"traffic"`
	Breakdown map[string]int `json:"breakdown"`
}

// FetchTraffic returns the traffic counters of a system. Systems unknown to
// EDSM yield zero counters.
func (c *Client) FetchTraffic(ctx context.Context, systemID int64) (*discovery.TrafficStats, error) {
	query := url.Values{}
	query.Set("systemId", strconv.FormatInt(systemID, 10))

	var resp trafficResponse
	if err := c.get(ctx, EndpointTraffic, query, &resp); err != nil {
		return nil, err
	}

	return &discovery.TrafficStats{
		Total:     resp.Traffic.Total,
		Week:      resp.Traffic.Week,
		Day:       resp.Traffic.Day,
		Breakdown: resp.Breakdown,
	}, nil
}

// get performs one rate-limited GET and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	startTime := time.Now()
	defer func() {
		edsmRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	if err := c.rateLimiter.Wait(ctx); err != nil {
		if errors.Is(err, ratelimit.ErrLimitExhausted) {
			edsmRequestsTotal.WithLabelValues(endpoint, "rate_limited").Inc()
			return c.fail(&Error{
				Kind:     KindRateLimited,
				Endpoint: endpoint,
				Message:  "request held by rate limiter",
				Err:      err,
			})
		}
		return fmt.Errorf("wait for rate limiter: %w", err)
	}

	reqURL := *c.baseURL
	reqURL.Path = c.baseURL.Path + endpoint
	reqURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().Str("endpoint", endpoint).Msg("Executing EDSM request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("request %s: %w", endpoint, ctx.Err())
		}
		edsmRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return c.fail(&Error{
			Kind:     KindTransientNetwork,
			Endpoint: endpoint,
			Message:  "request failed",
			Err:      err,
		})
	}
	defer resp.Body.Close()

	edsmRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if err := c.rateLimiter.UpdateFromHeaders(ctx, resp.Header); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("read %s: %w", endpoint, ctx.Err())
		}
		return c.fail(&Error{
			Kind:       KindTransientNetwork,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Message:    "read body",
			Err:        err,
		})
	}

	if resp.StatusCode >= 400 {
		return c.fail(classifyStatus(endpoint, resp))
	}

	trimmed := bytes.TrimSpace(body)
	// EDSM answers unknown systems with an empty array or object
	if bytes.Equal(trimmed, []byte("[]")) || bytes.Equal(trimmed, []byte("{}")) {
		return nil
	}

	if err := json.Unmarshal(trimmed, out); err != nil {
		return c.fail(&Error{
			Kind:       KindMalformedResponse,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Message:    "decode body",
			Err:        err,
		})
	}

	return nil
}

// classifyStatus maps an HTTP error status to an error kind.
func classifyStatus(endpoint string, resp *http.Response) *Error {
	e := &Error{
		Endpoint:   endpoint,
		StatusCode: resp.StatusCode,
		Message:    resp.Status,
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		e.Kind = KindAuthInvalid
	case resp.StatusCode >= 500:
		e.Kind = KindTransientNetwork
	default:
		e.Kind = KindMalformedResponse
	}

	return e
}

// parseRetryAfter parses a Retry-After header in seconds or HTTP-date form.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// fail records and logs a classified error.
func (c *Client) fail(e *Error) *Error {
	edsmErrorsTotal.WithLabelValues(string(e.Kind)).Inc()
	c.logger.Warn().
		Str("endpoint", e.Endpoint).
		Int("status", e.StatusCode).
		Str("error_kind", string(e.Kind)).
		Msg("EDSM request error")
	return e
}
