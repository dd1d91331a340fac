package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"docuquery-api/middleware/ratelimit/application"
	"docuquery-api/middleware/ratelimit/domain"
	"docuquery-api/middleware/ratelimit/infra"
)

var epoch = time.Date(2025, 3, 4, 5, 6, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) At(d time.Duration) {
	c.mu.Lock()
	c.now = epoch.Add(d)
	c.mu.Unlock()
}

func newService(t *testing.T, store domain.QuotaStore, limit int, window time.Duration, mode application.RetryAfterMode) (*application.Service, *clock) {
	t.Helper()
	svc, err := application.NewService(store, domain.Policy{Limit: limit, Window: window}, mode)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	c := &clock{now: epoch}
	svc.Clock = c.Now
	return svc, c
}

func okHandler(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.WriteHeader(http.StatusOK)
	})
}

func do(h http.Handler, remote string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "http://example/api/v1/info", nil)
	r.RemoteAddr = remote
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestMiddleware_ScenarioThreePerMinute(t *testing.T) {
	svc, c := newService(t, infra.NewStore(), 3, time.Minute, application.RetryAfterWindow)

	calls := 0
	h := Middleware(Options{Service: svc})(okHandler(&calls))

	for i, want := range []string{"2", "1", "0"} {
		c.At(time.Duration(i) * time.Second)
		w := do(h, "10.0.0.1:1234")
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
		if got := w.Header().Get(HeaderRemaining); got != want {
			t.Fatalf("request %d: expected remaining %s, got %q", i+1, want, got)
		}
		if got := w.Header().Get(HeaderLimit); got != "3" {
			t.Fatalf("request %d: expected limit 3, got %q", i+1, got)
		}
		if got, want := w.Header().Get(HeaderReset), strconv.FormatInt(epoch.Add(time.Minute).Unix(), 10); got != want {
			t.Fatalf("request %d: expected reset %s, got %q", i+1, want, got)
		}
	}

	c.At(3 * time.Second)
	w := do(h, "10.0.0.1:1234")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if got := w.Header().Get(HeaderRetryAfter); got != "60" {
		t.Fatalf("expected Retry-After=60, got %q", got)
	}
	if got := w.Header().Get(HeaderWindow); got != "60" {
		t.Fatalf("expected X-RateLimit-Window=60, got %q", got)
	}
	if got := w.Header().Get(HeaderLimit); got != "3" {
		t.Fatalf("expected X-RateLimit-Limit=3, got %q", got)
	}
	if calls != 3 {
		t.Fatalf("expected next handler to be called 3 times, got %d", calls)
	}

	c.At(61 * time.Second)
	w = do(h, "10.0.0.1:1234")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 after the window, got %d", w.Code)
	}
	if got := w.Header().Get(HeaderRemaining); got != "2" {
		t.Fatalf("expected remaining 2 in the new window, got %q", got)
	}
}

func TestMiddleware_DeniedEnvelope(t *testing.T) {
	svc, _ := newService(t, infra.NewStore(), 1, time.Minute, application.RetryAfterWindow)

	calls := 0
	h := Middleware(Options{Service: svc})(okHandler(&calls))
	do(h, "10.0.0.1:1")
	w := do(h, "10.0.0.1:1")

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected JSON content type, got %q", ct)
	}

	var body struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error.Code != "RATE_LIMIT_EXCEEDED" {
		t.Fatalf("expected RATE_LIMIT_EXCEEDED, got %q", body.Error.Code)
	}
	if body.Error.Message != DeniedMessage {
		t.Fatalf("unexpected message %q", body.Error.Message)
	}
	if got := body.Error.Details["window_seconds"]; got != float64(60) {
		t.Fatalf("expected window_seconds 60, got %v", got)
	}
}

func TestMiddleware_PreciseRetryAfter(t *testing.T) {
	svc, c := newService(t, infra.NewStore(), 1, time.Minute, application.RetryAfterRemaining)

	calls := 0
	h := Middleware(Options{Service: svc})(okHandler(&calls))
	do(h, "10.0.0.1:1")

	c.At(20*time.Second + 500*time.Millisecond)
	w := do(h, "10.0.0.1:1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	// 39.5s left, rounded up
	if got := w.Header().Get(HeaderRetryAfter); got != "40" {
		t.Fatalf("expected Retry-After=40, got %q", got)
	}
}

func TestMiddleware_KeysAreIndependent(t *testing.T) {
	svc, _ := newService(t, infra.NewStore(), 1, time.Minute, application.RetryAfterWindow)

	calls := 0
	h := Middleware(Options{Service: svc})(okHandler(&calls))

	if w := do(h, "10.0.0.1:1"); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for A, got %d", w.Code)
	}
	if w := do(h, "10.0.0.1:1"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for A, got %d", w.Code)
	}
	if w := do(h, "10.0.0.2:1"); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for B, got %d", w.Code)
	}
}

func TestMiddleware_KeyByHeader(t *testing.T) {
	svc, _ := newService(t, infra.NewStore(), 1, time.Minute, application.RetryAfterWindow)

	calls := 0
	h := Middleware(Options{Service: svc, KeyHeader: "X-Api-Key"})(okHandler(&calls))

	for _, k := range []string{"k1", "k2"} {
		r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
		r.Header.Set("X-Api-Key", k)
		r.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200 for key %s, got %d", k, w.Code)
		}
	}
}

func TestMiddleware_NoPeerSharesUnknownBucket(t *testing.T) {
	store := infra.NewStore()
	svc, _ := newService(t, store, 2, time.Minute, application.RetryAfterWindow)

	calls := 0
	h := Middleware(Options{Service: svc})(okHandler(&calls))
	do(h, "")
	do(h, "")
	if w := do(h, ""); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected anonymous callers to share one bucket, got %d", w.Code)
	}

	rec, ok, err := store.Peek(context.Background(), domain.UnknownKey)
	if err != nil || !ok {
		t.Fatalf("expected a record under %q (ok=%v err=%v)", domain.UnknownKey, ok, err)
	}
	if rec.Count != 2 {
		t.Fatalf("expected count 2, got %d", rec.Count)
	}
}

func TestMiddleware_ExemptPathsBypass(t *testing.T) {
	svc, _ := newService(t, infra.NewStore(), 1, time.Minute, application.RetryAfterWindow)

	var outcomes []Outcome
	calls := 0
	h := Middleware(Options{
		Service:     svc,
		ExemptPaths: []string{"/api/v1/health/"},
		OnDecision:  func(o Outcome) { outcomes = append(outcomes, o) },
	})(okHandler(&calls))

	for _, p := range []string{"/api/v1/health", "/api/v1/health/live", "/api/v1/health"} {
		r := httptest.NewRequest(http.MethodGet, "http://example"+p, nil)
		r.RemoteAddr = "10.0.0.1:1"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", p, w.Code)
		}
		if w.Header().Get(HeaderLimit) != "" {
			t.Fatalf("%s: exempt path must not carry quota headers", p)
		}
	}

	r := httptest.NewRequest(http.MethodGet, "http://example/api/v1/healthz", nil)
	r.RemoteAddr = "10.0.0.1:1"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Header().Get(HeaderLimit) != "1" {
		t.Fatalf("sibling path must be limited")
	}

	want := []Outcome{OutcomeExempt, OutcomeExempt, OutcomeExempt, OutcomeAllowed}
	if len(outcomes) != len(want) {
		t.Fatalf("expected outcomes %v, got %v", want, outcomes)
	}
	for i := range want {
		if outcomes[i] != want[i] {
			t.Fatalf("expected outcomes %v, got %v", want, outcomes)
		}
	}
}

type brokenStore struct{}

func (brokenStore) Admit(context.Context, domain.Key, domain.Policy, time.Time) (domain.Decision, error) {
	return domain.Decision{}, errors.New("connection refused")
}

func (brokenStore) Peek(context.Context, domain.Key) (domain.QuotaRecord, bool, error) {
	return domain.QuotaRecord{}, false, errors.New("connection refused")
}

func TestMiddleware_FailOpen(t *testing.T) {
	svc, _ := newService(t, brokenStore{}, 1, time.Minute, application.RetryAfterWindow)

	storeErrs := 0
	calls := 0
	h := Middleware(Options{
		Service:      svc,
		FailOpen:     true,
		OnStoreError: func(error) { storeErrs++ },
	})(okHandler(&calls))

	for i := 0; i < 3; i++ {
		if w := do(h, "10.0.0.1:1"); w.Code != http.StatusOK {
			t.Fatalf("expected 200 when failing open, got %d", w.Code)
		}
	}
	if calls != 3 || storeErrs != 3 {
		t.Fatalf("expected 3 calls and 3 store errors, got %d and %d", calls, storeErrs)
	}
}

func TestMiddleware_FailClosed(t *testing.T) {
	svc, _ := newService(t, brokenStore{}, 1, time.Minute, application.RetryAfterWindow)

	calls := 0
	h := Middleware(Options{Service: svc})(okHandler(&calls))

	w := do(h, "10.0.0.1:1")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if calls != 0 {
		t.Fatalf("next handler must not run, got %d calls", calls)
	}
}

func TestMiddleware_RecordsStats(t *testing.T) {
	svc, _ := newService(t, infra.NewStore(), 1, time.Minute, application.RetryAfterWindow)
	stats := infra.NewMemoryStatsStore()

	calls := 0
	h := Middleware(Options{Service: svc, Stats: stats})(okHandler(&calls))
	do(h, "10.0.0.1:1")
	do(h, "10.0.0.1:1")

	tot, err := stats.Totals(context.Background())
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if tot.Allowed != 1 || tot.Denied != 1 {
		t.Fatalf("expected 1 allowed and 1 denied, got %+v", tot)
	}
}

func TestMiddleware_StatsStayBoundedUnderUniquePaths(t *testing.T) {
	svc, _ := newService(t, infra.NewStore(), 3, time.Minute, application.RetryAfterWindow)
	stats := infra.NewMemoryStatsStore()

	calls := 0
	h := Middleware(Options{Service: svc, Stats: stats})(okHandler(&calls))
	for i := 0; i < 10000; i++ {
		r := httptest.NewRequest(http.MethodGet, "http://example/nope/"+strconv.Itoa(i), nil)
		r.RemoteAddr = "10.0.0.1:1"
		h.ServeHTTP(httptest.NewRecorder(), r)
	}

	if n := len(stats.ByRoute()); n > infra.DefaultMaxRoutes+1 {
		t.Fatalf("route counters grew to %d entries", n)
	}
	tot := stats.Total()
	if tot.Allowed != 3 || tot.Denied != 9997 {
		t.Fatalf("unexpected totals %+v", tot)
	}
}

func TestMiddleware_NoStoreSendsFutureReset(t *testing.T) {
	svc := &application.Service{Policy: domain.Policy{Limit: 5, Window: time.Minute}}
	c := &clock{now: epoch}
	svc.Clock = c.Now

	calls := 0
	w := do(Middleware(Options{Service: svc})(okHandler(&calls)), "10.0.0.1:1")
	if w.Code != http.StatusOK || calls != 1 {
		t.Fatalf("expected pass-through, got %d", w.Code)
	}
	if got, want := w.Header().Get(HeaderReset), strconv.FormatInt(epoch.Add(time.Minute).Unix(), 10); got != want {
		t.Fatalf("expected reset %s, got %s", want, got)
	}
	if got := w.Header().Get(HeaderRemaining); got != "5" {
		t.Fatalf("expected remaining 5, got %q", got)
	}
}

func TestWholeSecondsRoundsUp(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want int64
	}{
		{0, 0},
		{-time.Second, 0},
		{time.Millisecond, 1},
		{time.Second, 1},
		{1500 * time.Millisecond, 2},
		{time.Minute, 60},
	}
	for _, c := range cases {
		if got := wholeSeconds(c.d); got != c.want {
			t.Fatalf("wholeSeconds(%s) = %d, want %d", c.d, got, c.want)
		}
	}
}

func TestMiddleware_NilServicePassesThrough(t *testing.T) {
	calls := 0
	h := Middleware(Options{})(okHandler(&calls))
	for i := 0; i < 5; i++ {
		do(h, "10.0.0.1:1")
	}
	if calls != 5 {
		t.Fatalf("expected 5 calls, got %d", calls)
	}
}

func TestMiddleware_ConcurrentSameClientNeverOverAdmits(t *testing.T) {
	const limit = 25
	svc, _ := newService(t, infra.NewStore(), limit, time.Minute, application.RetryAfterWindow)

	var mu sync.Mutex
	calls := 0
	h := Middleware(Options{Service: svc})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
	}))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			do(h, "10.0.0.1:1")
		}()
	}
	wg.Wait()

	if calls != limit {
		t.Fatalf("expected exactly %d admitted, got %d", limit, calls)
	}
}
