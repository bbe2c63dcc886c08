package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/SmitUplenchwar2687/ratekit/internal/clock"
	"github.com/SmitUplenchwar2687/ratekit/internal/limiter"
	"github.com/SmitUplenchwar2687/ratekit/internal/logging"
	"github.com/SmitUplenchwar2687/ratekit/internal/metrics"
	"github.com/SmitUplenchwar2687/ratekit/internal/recorder"
	"github.com/SmitUplenchwar2687/ratekit/internal/storage"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func tokenBucket(size uint64) limiter.Config {
	return limiter.Config{Algorithm: limiter.AlgorithmTokenBucket, Size: size, Rate: size, Interval: time.Minute}
}

type testServer struct {
	*httptest.Server
	srv   *Server
	clock *clock.VirtualClock
}

func startTestServer(t *testing.T, cfg limiter.Config, opts Options) *testServer {
	t.Helper()
	vc := clock.NewVirtualClock(epoch)
	factory := storage.ConfigFactory(cfg, limiter.WithClock(vc))
	if c := opts.Metrics; c != nil {
		base := factory
		factory = func(key string) (limiter.Limiter, error) {
			lim, err := base(key)
			if err != nil {
				return nil, err
			}
			return c.Instrument(string(cfg.Algorithm), lim), nil
		}
	}
	store, err := storage.NewMemoryStore(factory, storage.WithClock(vc))
	if err != nil {
		t.Fatal(err)
	}

	opts.Store = store
	opts.Algorithm = cfg.Algorithm
	opts.Clock = vc
	opts.Logger = logging.Discard()
	srv, err := New("127.0.0.1:0", opts)
	if err != nil {
		t.Fatal(err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Shutdown(context.Background())
	})
	return &testServer{Server: ts, srv: srv, clock: vc}
}

func (ts *testServer) check(t *testing.T, path string) (int, CheckResponse) {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body CheckResponse
	json.NewDecoder(resp.Body).Decode(&body)
	return resp.StatusCode, body
}

func TestServer_Root(t *testing.T) {
	ts := startTestServer(t, tokenBucket(10), Options{})

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["service"] != "ratekit" {
		t.Errorf("service = %q, want ratekit", body["service"])
	}
	if body["algorithm"] != "token_bucket" {
		t.Errorf("algorithm = %q, want token_bucket", body["algorithm"])
	}
	if body["time"] != epoch.Format(time.RFC3339) {
		t.Errorf("time = %q, want the virtual clock time", body["time"])
	}
}

func TestServer_HealthAndNotFound(t *testing.T) {
	ts := startTestServer(t, tokenBucket(10), Options{})

	for path, want := range map[string]int{
		"/health":      http.StatusOK,
		"/nonexistent": http.StatusNotFound,
		"/metrics":     http.StatusNotFound, // no collector configured
	} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("GET %s status = %d, want %d", path, resp.StatusCode, want)
		}
	}
}

func TestServer_CheckKey_AllowedThenDenied(t *testing.T) {
	ts := startTestServer(t, tokenBucket(3), Options{})

	for i := 0; i < 3; i++ {
		status, body := ts.check(t, "/api/check/user1")
		if status != http.StatusOK || !body.Allowed {
			t.Fatalf("request %d: status=%d allowed=%v, want 200/true", i+1, status, body.Allowed)
		}
	}

	status, body := ts.check(t, "/api/check/user1")
	if status != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", status)
	}
	if body.Allowed || body.Key != "user1" {
		t.Errorf("body = %+v, want denied for user1", body)
	}

	// Time travel refills the bucket.
	ts.clock.Advance(time.Minute)
	if status, _ := ts.check(t, "/api/check/user1"); status != http.StatusOK {
		t.Errorf("after refill status = %d, want 200", status)
	}
}

func TestServer_CheckKey_Units(t *testing.T) {
	ts := startTestServer(t, tokenBucket(5), Options{})

	status, body := ts.check(t, "/api/check/bulk?n=4")
	if status != http.StatusOK || body.Units != 4 {
		t.Errorf("n=4: status=%d units=%d, want 200/4", status, body.Units)
	}
	if status, _ := ts.check(t, "/api/check/bulk?n=2"); status != http.StatusTooManyRequests {
		t.Errorf("n=2 with 1 left: status = %d, want 429", status)
	}
	if status, _ := ts.check(t, "/api/check/bulk?n=1"); status != http.StatusOK {
		t.Errorf("n=1 with 1 left: status = %d, want 200", status)
	}
}

func TestServer_CheckKey_BadRequests(t *testing.T) {
	ts := startTestServer(t, tokenBucket(5), Options{})

	for _, path := range []string{"/api/check/", "/api/check/user1?n=-1", "/api/check/user1?n=lots"} {
		if status, _ := ts.check(t, path); status != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want 400", path, status)
		}
	}
}

func TestServer_LeakyBucketRejectsUnits(t *testing.T) {
	cfg := limiter.Config{Algorithm: limiter.AlgorithmLeakyBucket, Size: 5, Rate: 1, Interval: time.Hour}
	ts := startTestServer(t, cfg, Options{})

	if status, _ := ts.check(t, "/api/check/user1?n=2"); status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", status)
	}
}

func TestServer_Check_UsesClientIP(t *testing.T) {
	ts := startTestServer(t, tokenBucket(1), Options{})

	status, body := ts.check(t, "/api/check")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if body.Key != "127.0.0.1" {
		t.Errorf("key = %q, want 127.0.0.1", body.Key)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/check", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Key != "203.0.113.7" || !body.Allowed {
		t.Errorf("forwarded check = %+v, want allowed for 203.0.113.7", body)
	}
}

func TestServer_SeparateKeysAreSeparate(t *testing.T) {
	ts := startTestServer(t, tokenBucket(1), Options{})

	ts.check(t, "/api/check/user1")
	if status, _ := ts.check(t, "/api/check/user1"); status != http.StatusTooManyRequests {
		t.Errorf("user1 second request status = %d, want 429", status)
	}
	if status, _ := ts.check(t, "/api/check/user2"); status != http.StatusOK {
		t.Errorf("user2 status = %d, want 200", status)
	}
}

func TestServer_Metrics(t *testing.T) {
	collector := metrics.NewCollector(nil)
	ts := startTestServer(t, tokenBucket(1), Options{Metrics: collector})

	ts.check(t, "/api/check/user1")
	ts.check(t, "/api/check/user1")

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`ratekit_admission_checks_total{limiter="token_bucket",result="allowed"} 1`,
		`ratekit_admission_checks_total{limiter="token_bucket",result="denied"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestServer_RecordsTraffic(t *testing.T) {
	rec := recorder.New(nil)
	ts := startTestServer(t, tokenBucket(5), Options{Recorder: rec})

	ts.check(t, "/api/check/user1?n=2")
	ts.check(t, "/api/check/user2")

	records := rec.Records()
	if len(records) != 2 {
		t.Fatalf("recorded %d requests, want 2", len(records))
	}
	if records[0].Key != "user1" || records[0].Units != 2 {
		t.Errorf("first record = %+v, want user1 with 2 units", records[0])
	}
	if records[0].Endpoint != "GET /api/check/user1" {
		t.Errorf("endpoint = %q, want GET /api/check/user1", records[0].Endpoint)
	}
	if !records[1].Timestamp.Equal(epoch) {
		t.Errorf("timestamp = %v, want virtual clock time", records[1].Timestamp)
	}
}

func TestServer_WebSocketBroadcast(t *testing.T) {
	hub := NewHub(logging.Discard())
	ts := startTestServer(t, tokenBucket(1), Options{Hub: hub})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, time.Millisecond)

	ts.check(t, "/api/check/user1")
	ts.check(t, "/api/check/user1")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var events []recorder.DecisionEvent
	for i := 0; i < 2; i++ {
		var ev recorder.DecisionEvent
		require.NoError(t, conn.ReadJSON(&ev))
		events = append(events, ev)
	}

	require.True(t, events[0].Allowed)
	require.False(t, events[1].Allowed)
	require.Equal(t, "user1", events[1].Record.Key)
	require.Equal(t, "token_bucket", events[1].Algorithm)
}

func TestServer_ClosedStoreUnavailable(t *testing.T) {
	ts := startTestServer(t, tokenBucket(1), Options{})

	if err := ts.srv.opts.Store.Close(); err != nil {
		t.Fatal(err)
	}
	if status, _ := ts.check(t, "/api/check/user1"); status != http.StatusServiceUnavailable {
		t.Errorf("status after store close = %d, want 503", status)
	}
}

func TestNew_RequiresStore(t *testing.T) {
	if _, err := New(":0", Options{}); err == nil {
		t.Error("New without a store should fail")
	}
}

func TestServer_StartOnListenerAndShutdown(t *testing.T) {
	store, err := storage.NewMemoryStore(storage.ConfigFactory(tokenBucket(1)))
	require.NoError(t, err)
	srv, err := New("127.0.0.1:0", Options{Store: store, Logger: logging.Discard()})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.StartOnListener(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, <-errCh, "serve should return nil after a graceful shutdown")

	_, err = store.Get("user1")
	require.ErrorIs(t, err, storage.ErrClosed)
}

func TestServer_WriteJSONLogsEncodeFailure(t *testing.T) {
	var logs bytes.Buffer
	logger, err := logging.New("debug", "text", &logs)
	require.NoError(t, err)

	store, err := storage.NewMemoryStore(storage.ConfigFactory(tokenBucket(1)))
	require.NoError(t, err)
	srv, err := New("127.0.0.1:0", Options{Store: store, Logger: logger})
	require.NoError(t, err)
	defer srv.Shutdown(context.Background())

	rec := httptest.NewRecorder()
	srv.writeJSON(rec, http.StatusOK, map[string]any{"bad": func() {}})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, logs.String(), "writing response failed")
	require.Contains(t, logs.String(), "status=200")
}
