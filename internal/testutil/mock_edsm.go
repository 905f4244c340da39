// Package testutil provides testing utilities for the EDSM client.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// EDSM paths served by MockEDSM.
const (
	LogsPath    = "/api-logs-v1/get-logs"
	TrafficPath = "/api-system-v1/traffic"
)

const dateLayout = "2006-01-02 15:04:05"

// MockResponse is a canned response for a mock endpoint.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockLog is one flight log entry known to the mock server.
type MockLog struct {
	System        string
	SystemID      int64
	Date          time.Time
	FirstDiscover bool
}

// MockTraffic is the traffic report of one system.
type MockTraffic struct {
	Name      string
	Total     int
	Week      int
	Day       int
	Breakdown map[string]int
}

// MockEDSM is a configurable mock EDSM server for testing. It answers the
// logs endpoint from Logs filtered by the requested range and the traffic
// endpoint from Traffic. Queued responses take precedence.
type MockEDSM struct {
	server *httptest.Server

	mu       sync.Mutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	queued   map[string][]MockResponse
	logs     []MockLog
	traffic  map[int64]MockTraffic

	commander string
	apiKey    string

	requests     map[string]int
	lastQuery    map[string]string
	lastUA       string
	rateLimitRem int
}

// NewMockEDSM creates a mock server accepting the given credentials.
func NewMockEDSM(commander, apiKey string) *MockEDSM {
	mock := &MockEDSM{
		handlers:     make(map[string]func(w http.ResponseWriter, r *http.Request)),
		queued:       make(map[string][]MockResponse),
		traffic:      make(map[int64]MockTraffic),
		commander:    commander,
		apiKey:       apiKey,
		requests:     make(map[string]int),
		lastQuery:    make(map[string]string),
		rateLimitRem: 360,
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))
	return mock
}

// URL returns the mock server URL.
func (m *MockEDSM) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockEDSM) Close() {
	m.server.Close()
}

// AddLogs adds flight log entries.
func (m *MockEDSM) AddLogs(logs ...MockLog) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, logs...)
}

// SetTraffic sets the traffic report of a system.
func (m *MockEDSM) SetTraffic(systemID int64, traffic MockTraffic) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traffic[systemID] = traffic
}

// SetHandler overrides a path with a custom handler.
func (m *MockEDSM) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// Enqueue queues responses served, in order, before the regular handler of
// path answers again.
func (m *MockEDSM) Enqueue(path string, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued[path] = append(m.queued[path], responses...)
}

// SetRateLimitRemaining sets the X-Rate-Limit-Remaining value of regular
// responses.
func (m *MockEDSM) SetRateLimitRemaining(remaining int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimitRem = remaining
}

// RequestCount returns the number of requests made to path.
func (m *MockEDSM) RequestCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[path]
}

// TotalRequests returns the number of requests made to any path.
func (m *MockEDSM) TotalRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.requests {
		total += n
	}
	return total
}

// LastQuery returns the query parameter name of the last request.
func (m *MockEDSM) LastQuery(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastQuery[name]
}

// LastUserAgent returns the User-Agent of the last request.
func (m *MockEDSM) LastUserAgent() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastUA
}

// Reset clears the request counters.
func (m *MockEDSM) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = make(map[string]int)
}

func (m *MockEDSM) serve(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requests[r.URL.Path]++
	m.lastUA = r.Header.Get("User-Agent")
	m.lastQuery = make(map[string]string)
	for key := range r.URL.Query() {
		m.lastQuery[key] = r.URL.Query().Get(key)
	}

	var queued *MockResponse
	if q := m.queued[r.URL.Path]; len(q) > 0 {
		queued = &q[0]
		m.queued[r.URL.Path] = q[1:]
	}
	handler, custom := m.handlers[r.URL.Path]
	m.mu.Unlock()

	switch {
	case queued != nil:
		writeResponse(w, *queued)
	case custom:
		handler(w, r)
	case r.URL.Path == LogsPath:
		m.serveLogs(w, r)
	case r.URL.Path == TrafficPath:
		m.serveTraffic(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (m *MockEDSM) setRateLimitHeaders(w http.ResponseWriter) {
	m.mu.Lock()
	remaining := m.rateLimitRem
	m.mu.Unlock()

	w.Header().Set("X-Rate-Limit-Limit", "360")
	w.Header().Set("X-Rate-Limit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-Rate-Limit-Reset", "60")
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
}

func (m *MockEDSM) serveLogs(w http.ResponseWriter, r *http.Request) {
	m.setRateLimitHeaders(w)
	q := r.URL.Query()

	if q.Get("commanderName") == "" {
		writeJSON(w, map[string]any{"msgnum": 201, "msg": "Missing commander name"})
		return
	}
	if q.Get("apiKey") == "" {
		writeJSON(w, map[string]any{"msgnum": 202, "msg": "Missing API key"})
		return
	}
	if q.Get("commanderName") != m.commander || q.Get("apiKey") != m.apiKey {
		writeJSON(w, map[string]any{"msgnum": 203, "msg": "Commander name/API Key not found"})
		return
	}

	start, err := time.ParseInLocation(dateLayout, q.Get("startDateTime"), time.UTC)
	if err != nil {
		http.Error(w, "bad startDateTime", http.StatusBadRequest)
		return
	}
	end, err := time.ParseInLocation(dateLayout, q.Get("endDateTime"), time.UTC)
	if err != nil {
		http.Error(w, "bad endDateTime", http.StatusBadRequest)
		return
	}

	type logJSON struct {
		System        string `json:"system"`
		SystemID      int64  `json:"systemId,omitempty"`
		FirstDiscover bool   `json:"firstDiscover"`
		Date          string `json:"date"`
	}

	m.mu.Lock()
	logs := make([]logJSON, 0)
	for _, l := range m.logs {
		if l.Date.Before(start) || !l.Date.Before(end) {
			continue
		}
		entry := logJSON{
			System:        l.System,
			FirstDiscover: l.FirstDiscover,
			Date:          l.Date.UTC().Format(dateLayout),
		}
		if q.Get("showId") == "1" {
			entry.SystemID = l.SystemID
		}
		logs = append(logs, entry)
	}
	m.mu.Unlock()

	writeJSON(w, map[string]any{
		"msgnum":        100,
		"msg":           "OK",
		"startDateTime": q.Get("startDateTime"),
		"endDateTime":   q.Get("endDateTime"),
		"logs":          logs,
	})
}

func (m *MockEDSM) serveTraffic(w http.ResponseWriter, r *http.Request) {
	m.setRateLimitHeaders(w)

	id, err := strconv.ParseInt(r.URL.Query().Get("systemId"), 10, 64)
	if err != nil {
		writeJSON(w, []any{})
		return
	}

	m.mu.Lock()
	traffic, ok := m.traffic[id]
	m.mu.Unlock()

	if !ok {
		writeJSON(w, map[string]any{})
		return
	}

	breakdown := traffic.Breakdown
	if breakdown == nil {
		breakdown = map[string]int{}
	}
	writeJSON(w, map[string]any{
		"id":   id,
		"name": traffic.Name,
		"traffic": map[string]int{
			"total": traffic.Total,
			"week":  traffic.Week,
			"day":   traffic.Day,
		},
		"breakdown": breakdown,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		_, _ = w.Write([]byte(resp.Body))
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"msgnum": 429, "msg": "Too many requests"}`,
		Headers: map[string]string{
			"Retry-After": strconv.Itoa(retryAfter),
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       "Internal server error",
	}
}

// NewMalformedResponse creates a 200 response with an undecodable body.
func NewMalformedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       "<html>maintenance</html>",
		Headers:    map[string]string{"Content-Type": "text/html"},
	}
}

// NewAuthFailureResponse creates a logs response rejecting the credentials.
func NewAuthFailureResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"msgnum": 203, "msg": "Commander name/API Key not found"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}
