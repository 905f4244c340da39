package client

import (
	"context"
	"errors"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/Sternrassler/edsm-discoveries/internal/testutil"
	"github.com/Sternrassler/edsm-discoveries/pkg/interval"
	"github.com/Sternrassler/edsm-discoveries/pkg/ratelimit"
	"github.com/rs/zerolog"
)

const (
	testCommander = "Jameson"
	testAPIKey    = "secret-key"
)

func quietLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

// newTestClient returns a client against mock without request pacing.
func newTestClient(t *testing.T, mock *testutil.MockEDSM) *Client {
	t.Helper()

	rlCfg := ratelimit.DefaultConfig()
	rlCfg.RequestInterval = 0

	cfg := DefaultConfig(testCommander, testAPIKey)
	cfg.BaseURL = mock.URL()
	cfg.Timeout = 5 * time.Second
	cfg.RateLimiter = ratelimit.NewTracker(nil, rlCfg, quietLogger())

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func week(y int, m time.Month, d int) interval.Interval {
	start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return interval.New(start, start.Add(7*24*time.Hour))
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
	}{
		{
			name:        "valid config",
			config:      DefaultConfig(testCommander, testAPIKey),
			expectError: false,
		},
		{
			name:        "empty commander",
			config:      DefaultConfig("", testAPIKey),
			expectError: true,
		},
		{
			name:        "empty api key",
			config:      DefaultConfig(testCommander, ""),
			expectError: true,
		},
		{
			name: "empty user agent",
			config: Config{
				Commander: testCommander,
				APIKey:    testAPIKey,
			},
			expectError: true,
		},
		{
			name: "unsupported scheme",
			config: Config{
				BaseURL:   "ftp://edsm.net",
				Commander: testCommander,
				APIKey:    testAPIKey,
				UserAgent: "test/1.0",
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.config)
			if tt.expectError {
				if err == nil {
					t.Error("New() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("New() unexpected error = %v", err)
			}
			if c.Commander() != testCommander {
				t.Errorf("Commander() = %q, want %q", c.Commander(), testCommander)
			}
			if c.RateLimiter() == nil {
				t.Error("RateLimiter() = nil, want default tracker")
			}
		})
	}
}

func TestFetchDiscoveries(t *testing.T) {
	mock := testutil.NewMockEDSM(testCommander, testAPIKey)
	defer mock.Close()

	mock.AddLogs(
		testutil.MockLog{System: "Col 285 Sector AB-C d1", SystemID: 11, Date: time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC), FirstDiscover: true},
		testutil.MockLog{System: "Sol", SystemID: 27, Date: time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC), FirstDiscover: false},
		testutil.MockLog{System: "Outside Range", SystemID: 99, Date: time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC), FirstDiscover: true},
	)

	c := newTestClient(t, mock)
	records, err := c.FetchDiscoveries(context.Background(), week(2024, time.January, 1))
	if err != nil {
		t.Fatalf("FetchDiscoveries() error = %v", err)
	}

	if len(records) != 1 {
		t.Fatalf("FetchDiscoveries() returned %d records, want 1", len(records))
	}
	got := records[0]
	if got.SystemName != "Col 285 Sector AB-C d1" || got.SystemID != 11 {
		t.Errorf("record = %+v, want Col 285 Sector AB-C d1 (11)", got)
	}
	if !got.DiscoveryDate.Equal(time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("DiscoveryDate = %v", got.DiscoveryDate)
	}

	if mock.LastQuery("startDateTime") != "2024-01-01 00:00:00" {
		t.Errorf("startDateTime = %q", mock.LastQuery("startDateTime"))
	}
	if mock.LastQuery("endDateTime") != "2024-01-08 00:00:00" {
		t.Errorf("endDateTime = %q", mock.LastQuery("endDateTime"))
	}
	if mock.LastQuery("showId") != "1" {
		t.Errorf("showId = %q, want 1", mock.LastQuery("showId"))
	}
	if mock.LastUserAgent() == "" {
		t.Error("User-Agent header not sent")
	}
}

func TestFetchDiscoveries_DropsLogsOutsideInterval(t *testing.T) {
	mock := testutil.NewMockEDSM(testCommander, testAPIKey)
	defer mock.Close()

	// EDSM treats endDateTime as inclusive
	mock.SetHandler(testutil.LogsPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"msgnum":100,"msg":"OK","logs":[
			{"system":"Inside","systemId":1,"firstDiscover":true,"date":"2024-01-07 23:59:59"},
			{"system":"On The Boundary","systemId":2,"firstDiscover":true,"date":"2024-01-08 00:00:00"}
		]}`))
	})

	c := newTestClient(t, mock)
	records, err := c.FetchDiscoveries(context.Background(), week(2024, time.January, 1))
	if err != nil {
		t.Fatalf("FetchDiscoveries() error = %v", err)
	}
	if len(records) != 1 || records[0].SystemName != "Inside" {
		t.Errorf("FetchDiscoveries() = %+v, want only Inside", records)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func TestFetchDiscoveries_TransportError(t *testing.T) {
	mock := testutil.NewMockEDSM(testCommander, testAPIKey)
	defer mock.Close()

	c := newTestClient(t, mock)
	c.SetHTTPClient(&http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection reset by peer")
	})})

	_, err := c.FetchDiscoveries(context.Background(), week(2024, time.January, 1))
	if KindOf(err) != KindTransientNetwork {
		t.Errorf("KindOf() = %q, want %q (err = %v)", KindOf(err), KindTransientNetwork, err)
	}
	if mock.TotalRequests() != 0 {
		t.Errorf("TotalRequests() = %d, want 0 through the custom transport", mock.TotalRequests())
	}
}

func TestFetchDiscoveries_EmptyInterval(t *testing.T) {
	mock := testutil.NewMockEDSM(testCommander, testAPIKey)
	defer mock.Close()

	c := newTestClient(t, mock)
	records, err := c.FetchDiscoveries(context.Background(), week(2024, time.January, 1))
	if err != nil {
		t.Fatalf("FetchDiscoveries() error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("FetchDiscoveries() returned %d records, want 0", len(records))
	}
	if mock.RequestCount(testutil.LogsPath) != 1 {
		t.Errorf("RequestCount = %d, want 1", mock.RequestCount(testutil.LogsPath))
	}
}

func TestFetchDiscoveries_Classification(t *testing.T) {
	tests := []struct {
		name     string
		response testutil.MockResponse
		wantKind ErrorKind
	}{
		{"server error", testutil.NewServerErrorResponse(), KindTransientNetwork},
		{"bad gateway", testutil.MockResponse{StatusCode: http.StatusBadGateway}, KindTransientNetwork},
		{"too many requests", testutil.NewRateLimitResponse(0), KindRateLimited},
		{"unauthorized", testutil.MockResponse{StatusCode: http.StatusUnauthorized}, KindAuthInvalid},
		{"forbidden", testutil.MockResponse{StatusCode: http.StatusForbidden}, KindAuthInvalid},
		{"msgnum 203", testutil.NewAuthFailureResponse(), KindAuthInvalid},
		{"msgnum 201", testutil.MockResponse{StatusCode: http.StatusOK, Body: `{"msgnum":201,"msg":"Missing commander name"}`}, KindAuthInvalid},
		{"html body", testutil.NewMalformedResponse(), KindMalformedResponse},
		{"unknown msgnum", testutil.MockResponse{StatusCode: http.StatusOK, Body: `{"msgnum":500,"msg":"Exception"}`}, KindMalformedResponse},
		{"bad request", testutil.MockResponse{StatusCode: http.StatusBadRequest}, KindMalformedResponse},
		{"bad log date", testutil.MockResponse{StatusCode: http.StatusOK, Body: `{"msgnum":100,"msg":"OK","logs":[{"system":"X","firstDiscover":true,"date":"yesterday"}]}`}, KindMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockEDSM(testCommander, testAPIKey)
			defer mock.Close()
			mock.Enqueue(testutil.LogsPath, tt.response)

			c := newTestClient(t, mock)
			_, err := c.FetchDiscoveries(context.Background(), week(2024, time.January, 1))
			if err == nil {
				t.Fatal("FetchDiscoveries() expected error, got nil")
			}

			var edsmErr *Error
			if !errors.As(err, &edsmErr) {
				t.Fatalf("error %v is not *Error", err)
			}
			if edsmErr.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", edsmErr.Kind, tt.wantKind)
			}
			if edsmErr.Endpoint != EndpointLogs {
				t.Errorf("Endpoint = %s, want %s", edsmErr.Endpoint, EndpointLogs)
			}
		})
	}
}

func TestFetchDiscoveries_WrongCredentials(t *testing.T) {
	mock := testutil.NewMockEDSM(testCommander, "other-key")
	defer mock.Close()

	c := newTestClient(t, mock)
	_, err := c.FetchDiscoveries(context.Background(), week(2024, time.January, 1))
	if KindOf(err) != KindAuthInvalid {
		t.Fatalf("KindOf(%v) = %q, want %q", err, KindOf(err), KindAuthInvalid)
	}

	var edsmErr *Error
	errors.As(err, &edsmErr)
	if edsmErr.MsgNum != 203 {
		t.Errorf("MsgNum = %d, want 203", edsmErr.MsgNum)
	}
}

func TestFetchDiscoveries_RetryAfter(t *testing.T) {
	mock := testutil.NewMockEDSM(testCommander, testAPIKey)
	defer mock.Close()
	mock.Enqueue(testutil.LogsPath, testutil.NewRateLimitResponse(42))

	c := newTestClient(t, mock)
	_, err := c.FetchDiscoveries(context.Background(), week(2024, time.January, 1))

	if got := retryAfterOf(err); got != 42*time.Second {
		t.Errorf("retryAfterOf() = %v, want 42s", got)
	}
}

func TestFetchDiscoveries_ContextCancelled(t *testing.T) {
	mock := testutil.NewMockEDSM(testCommander, testAPIKey)
	defer mock.Close()

	c := newTestClient(t, mock)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.FetchDiscoveries(ctx, week(2024, time.January, 1))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if KindOf(err) != "" {
		t.Errorf("KindOf() = %q, cancellation must not be classified", KindOf(err))
	}
}

func TestFetchDiscoveries_UpdatesRateLimitState(t *testing.T) {
	mock := testutil.NewMockEDSM(testCommander, testAPIKey)
	defer mock.Close()
	mock.SetRateLimitRemaining(321)

	c := newTestClient(t, mock)
	if _, err := c.FetchDiscoveries(context.Background(), week(2024, time.January, 1)); err != nil {
		t.Fatalf("FetchDiscoveries() error = %v", err)
	}

	state, err := c.RateLimiter().State(context.Background())
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if state == nil || state.Remaining != 321 {
		t.Errorf("State() = %+v, want remaining 321", state)
	}
}

func TestFetchTraffic(t *testing.T) {
	mock := testutil.NewMockEDSM(testCommander, testAPIKey)
	defer mock.Close()
	mock.SetTraffic(11, testutil.MockTraffic{
		Name:      "Col 285 Sector AB-C d1",
		Total:     4,
		Week:      1,
		Day:       0,
		Breakdown: map[string]int{"Anaconda": 3, "Krait MkII": 1},
	})

	c := newTestClient(t, mock)
	stats, err := c.FetchTraffic(context.Background(), 11)
	if err != nil {
		t.Fatalf("FetchTraffic() error = %v", err)
	}
	if stats.Total != 4 || stats.Week != 1 || stats.Day != 0 {
		t.Errorf("FetchTraffic() = %+v, want total 4 week 1 day 0", stats)
	}
	if stats.Breakdown["Anaconda"] != 3 {
		t.Errorf("Breakdown = %v", stats.Breakdown)
	}
	if mock.LastQuery("systemId") != "11" {
		t.Errorf("systemId = %q, want 11", mock.LastQuery("systemId"))
	}
}

func TestFetchTraffic_UnknownSystem(t *testing.T) {
	mock := testutil.NewMockEDSM(testCommander, testAPIKey)
	defer mock.Close()

	c := newTestClient(t, mock)
	stats, err := c.FetchTraffic(context.Background(), 404)
	if err != nil {
		t.Fatalf("FetchTraffic() error = %v", err)
	}
	if stats.Total != 0 || stats.Week != 0 || stats.Day != 0 {
		t.Errorf("FetchTraffic() = %+v, want zero stats", stats)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 0},
		{"0", 0},
		{"30", 30 * time.Second},
		{"garbage", 0},
		{time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat), 0},
	}

	for _, tt := range tests {
		if got := parseRetryAfter(tt.value); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}

	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(future); got <= 50*time.Minute {
		t.Errorf("parseRetryAfter(future date) = %v, want about 1h", got)
	}
}
