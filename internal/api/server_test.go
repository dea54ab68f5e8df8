package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"price-aggregator/internal/config"
	"price-aggregator/internal/models"
	"price-aggregator/internal/queue"
	"price-aggregator/internal/ratelimit"
	"price-aggregator/internal/sink"
)

type fixture struct {
	handler http.Handler
	queue   *queue.RedisQueue
	results *sink.Memory
	mr      *miniredis.Miniredis
}

func newFixture(t *testing.T, capacity int) fixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := queue.NewRedisQueue(client, config.Config{QueuePrefix: "test", JobTTL: time.Hour})
	results := sink.NewMemory()
	limiter := ratelimit.NewTokenBucket(client, "test:rl", capacity, 0.001, time.Minute)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(q, results, limiter, nil, logger)
	return fixture{handler: srv.Router(), queue: q, results: results, mr: mr}
}

func (f fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestSubmitAndPoll(t *testing.T) {
	f := newFixture(t, 10)

	rec := f.do(t, http.MethodPost, "/jobs", `{"location":"411048","query":"milk"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d: %s", rec.Code, rec.Body.String())
	}
	id := decode[enqueueResponse](t, rec).JobID
	if id == "" {
		t.Fatalf("expected job id")
	}

	rec = f.do(t, http.MethodGet, "/jobs/"+id, "")
	view := decode[models.JobStateView](t, rec)
	if rec.Code != http.StatusOK || view.State != models.StateWaiting || view.Progress != 0 {
		t.Fatalf("unexpected state %d %+v", rec.Code, view)
	}

	if rec := f.do(t, http.MethodGet, "/jobs/nope", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/jobs", `{"location":"411048"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing query got %d", rec.Code)
	}
}

func TestSubmitRejectsOversizedBody(t *testing.T) {
	f := newFixture(t, 10)
	body := `{"location":"411048","query":"` + strings.Repeat("m", maxSubmitBytes) + `"}`
	if rec := f.do(t, http.MethodPost, "/jobs", body); rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 got %d", rec.Code)
	}
	if n, _ := f.queue.Depth(context.Background()); n != 0 {
		t.Fatalf("oversized submit must not enqueue, depth %d", n)
	}
}

func TestSubmitIsRateLimited(t *testing.T) {
	f := newFixture(t, 1)
	if rec := f.do(t, http.MethodPost, "/jobs", `{"location":"411048","query":"milk"}`); rec.Code != http.StatusAccepted {
		t.Fatalf("expected first submit accepted got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/jobs", `{"location":"411048","query":"bread"}`); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", rec.Code)
	}
}

func TestSubmitReportsUnavailableQueue(t *testing.T) {
	f := newFixture(t, 10)
	f.mr.Close()
	rec := f.do(t, http.MethodPost, "/jobs", `{"location":"411048","query":"milk"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rec.Code)
	}
}

func TestResultEndpoints(t *testing.T) {
	f := newFixture(t, 10)
	if rec := f.do(t, http.MethodGet, "/results/latest", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any result got %d", rec.Code)
	}

	price := 59.0
	res := models.AggregateResult{
		JobID: "job-1",
		RankedListings: []models.RankedListing{{
			NormalizedListing: models.NormalizedListing{RawListing: models.RawListing{SourceID: "zepto", Title: "Amul Gold Milk 500ml"}, NumericPrice: &price},
			Rank:              1,
		}},
	}
	if err := f.results.Write(context.Background(), res); err != nil {
		t.Fatalf("write: %v", err)
	}

	for _, path := range []string{"/results/latest", "/jobs/job-1/result", "/scrape/result"} {
		rec := f.do(t, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, rec.Code)
		}
		got := decode[models.AggregateResult](t, rec)
		if got.JobID != "job-1" || len(got.RankedListings) != 1 || got.RankedListings[0].Rank != 1 {
			t.Fatalf("%s: unexpected result %+v", path, got)
		}
	}
}

func TestLegacyScrapeRoutes(t *testing.T) {
	f := newFixture(t, 10)

	if rec := f.do(t, http.MethodGet, "/scrape/start?pincode=411048", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without product got %d", rec.Code)
	}
	rec := f.do(t, http.MethodGet, "/scrape/start?pincode=411048&product=milk", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	start := decode[struct {
		Success bool   `json:"success"`
		JobID   string `json:"jobId"`
	}](t, rec)
	if !start.Success || start.JobID == "" {
		t.Fatalf("unexpected start body %+v", start)
	}

	if _, err := f.queue.Claim(context.Background(), "w1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := f.queue.SetProgress(context.Background(), start.JobID, "w1", 70); err != nil {
		t.Fatalf("progress: %v", err)
	}
	status := decode[struct {
		Status   string `json:"status"`
		Progress int    `json:"progress"`
	}](t, f.do(t, http.MethodGet, "/scrape/status/"+start.JobID, ""))
	if status.Status != "active" || status.Progress != 70 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestDLQAndHealth(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	job, _ := f.queue.Enqueue(ctx, "411048", "milk")
	_, _ = f.queue.Claim(ctx, "w1")
	_ = f.queue.Fail(ctx, job.ID, "w1", "boom")

	body := decode[struct {
		Items []string `json:"items"`
	}](t, f.do(t, http.MethodGet, "/dlq", ""))
	if len(body.Items) != 1 || body.Items[0] != job.ID {
		t.Fatalf("unexpected dlq %+v", body)
	}
	if rec := f.do(t, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected healthy got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/jobs/"+job.ID+"/audit", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when audit disabled got %d", rec.Code)
	}
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/jobs", nil)
	if got := clientKey(req); got != "192.0.2.1" {
		t.Fatalf("expected remote ip got %q", got)
	}
	req.Header.Set("X-Client-ID", "mobile-app")
	if got := clientKey(req); got != "mobile-app" {
		t.Fatalf("expected header key got %q", got)
	}
}
