//go:build integration

package integration

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Sternrassler/edsm-discoveries/internal/testutil"
	"github.com/Sternrassler/edsm-discoveries/pkg/cache"
	"github.com/Sternrassler/edsm-discoveries/pkg/client"
	"github.com/Sternrassler/edsm-discoveries/pkg/enrich"
	"github.com/Sternrassler/edsm-discoveries/pkg/export"
	"github.com/Sternrassler/edsm-discoveries/pkg/ratelimit"
	"github.com/Sternrassler/edsm-discoveries/pkg/scheduler"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	commander = "Jameson"
	apiKey    = "secret"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get container endpoint: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: endpoint})

	t.Cleanup(func() {
		redisClient.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate Redis container: %v", err)
		}
	})

	return redisClient
}

func quietLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func newClient(t *testing.T, mock *testutil.MockEDSM, store ratelimit.StateStore) *client.Client {
	t.Helper()

	rlCfg := ratelimit.DefaultConfig()
	rlCfg.RequestInterval = 0

	cfg := client.DefaultConfig(commander, apiKey)
	cfg.BaseURL = mock.URL()
	cfg.RateLimiter = ratelimit.NewTracker(store, rlCfg, quietLogger())

	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	return c
}

func instantSchedule() scheduler.Config {
	cfg := scheduler.DefaultConfig()
	cfg.SafetyWindow = 0
	cfg.Retry.Transient.InitialBackoff = 0
	cfg.Retry.RateLimited.InitialBackoff = 0
	cfg.Retry.Malformed.InitialBackoff = 0
	cfg.Retry.Jitter = 0
	return cfg
}

func seedMock(mock *testutil.MockEDSM) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		id := int64(100 + i)
		mock.AddLogs(testutil.MockLog{
			System:        "Integration System " + string(rune('A'+i)),
			SystemID:      id,
			Date:          base.Add(time.Duration(i) * 4 * 24 * time.Hour),
			FirstDiscover: true,
		})
		mock.SetTraffic(id, testutil.MockTraffic{Total: i, Week: i / 2})
	}
}

func TestPipeline_EndToEnd(t *testing.T) {
	mock := testutil.NewMockEDSM(commander, apiKey)
	defer mock.Close()
	seedMock(mock)

	// first request of the second week fails once
	mock.Enqueue(testutil.LogsPath, testutil.MockResponse{StatusCode: 200, Body: `{"msgnum":100,"msg":"OK","logs":[]}`})
	mock.Enqueue(testutil.LogsPath, testutil.NewServerErrorResponse())

	dir := t.TempDir()
	edsm := newClient(t, mock, nil)
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 29, 0, 0, 0, 0, time.UTC)

	store, err := cache.Open(filepath.Join(dir, "cache.json"), commander)
	if err != nil {
		t.Fatalf("cache.Open() error = %v", err)
	}
	sched, err := scheduler.New(edsm, store, instantSchedule())
	if err != nil {
		t.Fatalf("scheduler.New() error = %v", err)
	}

	result, err := sched.Run(context.Background(), from, to)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Intervals != 4 || result.Fetched != 4 {
		t.Errorf("Run() = %d intervals, %d fetched; want 4, 4", result.Intervals, result.Fetched)
	}
	// the first week was answered by the queued empty response
	if got := len(result.Records); got != 4 {
		t.Errorf("Run() returned %d records, want 4", got)
	}

	trafficStore, err := cache.OpenTraffic(filepath.Join(dir, "traffic.json"))
	if err != nil {
		t.Fatalf("cache.OpenTraffic() error = %v", err)
	}
	enricher, err := enrich.New(edsm, trafficStore, enrich.DefaultConfig())
	if err != nil {
		t.Fatalf("enrich.New() error = %v", err)
	}
	enriched, err := enricher.Enrich(context.Background(), result.Records)
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, export.Sort(enriched.Records, export.SortByTraffic)); err != nil {
		t.Fatalf("export.Write() error = %v", err)
	}
	back, err := export.Read(&buf)
	if err != nil {
		t.Fatalf("export.Read() error = %v", err)
	}
	if len(back) != len(enriched.Records) {
		t.Fatalf("round trip returned %d records, want %d", len(back), len(enriched.Records))
	}
	if back[0].TotalTraffic() < back[len(back)-1].TotalTraffic() {
		t.Error("traffic order not preserved")
	}

	// a second run is served from the cache
	mock.Reset()
	reopened, err := cache.Open(filepath.Join(dir, "cache.json"), commander)
	if err != nil {
		t.Fatalf("cache.Open() error = %v", err)
	}
	sched2, _ := scheduler.New(edsm, reopened, instantSchedule())
	if _, err := sched2.Run(context.Background(), from, to); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if n := mock.TotalRequests(); n != 0 {
		t.Errorf("second run made %d requests, want 0", n)
	}
}

func TestPipeline_AuthFailureKeepsProgress(t *testing.T) {
	mock := testutil.NewMockEDSM(commander, apiKey)
	defer mock.Close()
	seedMock(mock)

	mock.Enqueue(testutil.LogsPath,
		testutil.MockResponse{StatusCode: 200, Body: `{"msgnum":100,"msg":"OK","logs":[]}`},
		testutil.NewAuthFailureResponse(),
	)

	path := filepath.Join(t.TempDir(), "cache.json")
	store, _ := cache.Open(path, commander)
	sched, _ := scheduler.New(newClient(t, mock, nil), store, instantSchedule())

	_, err := sched.Run(context.Background(),
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 22, 0, 0, 0, 0, time.UTC))
	if client.KindOf(err) != client.KindAuthInvalid {
		t.Fatalf("Run() error = %v, want auth failure", err)
	}

	reopened, err := cache.Open(path, commander)
	if err != nil {
		t.Fatalf("cache.Open() error = %v", err)
	}
	if reopened.Len() != 1 {
		t.Errorf("cache holds %d intervals, want 1", reopened.Len())
	}
}

func TestPipeline_SharedRateLimitState(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	redisClient := setupRedis(t)

	mock := testutil.NewMockEDSM(commander, apiKey)
	defer mock.Close()
	mock.SetRateLimitRemaining(42)

	first := newClient(t, mock, ratelimit.NewRedisStore(redisClient, ratelimit.DefaultRedisKey))
	if _, err := first.FetchTraffic(context.Background(), 1); err != nil {
		t.Fatalf("FetchTraffic() error = %v", err)
	}

	// a later run sees the budget the first one left behind
	second := newClient(t, mock, ratelimit.NewRedisStore(redisClient, ratelimit.DefaultRedisKey))
	state, err := second.RateLimiter().State(context.Background())
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if state == nil || state.Remaining != 42 {
		t.Errorf("State() = %+v, want remaining 42", state)
	}
}
