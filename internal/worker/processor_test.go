package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"price-aggregator/internal/config"
	"price-aggregator/internal/models"
	"price-aggregator/internal/queue"
	"price-aggregator/internal/sink"
	"price-aggregator/internal/source"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.Config {
	return config.Config{
		QueuePrefix:        "test",
		VisibilityTimeout:  time.Minute,
		WorkerPollInterval: 10 * time.Millisecond,
		WorkerConcurrency:  1,
		MaxAttempts:        2,
		JobTTL:             time.Hour,
	}
}

func newTestQueue(t *testing.T) *queue.RedisQueue {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return queue.NewRedisQueue(client, testConfig())
}

func static(listings ...models.RawListing) source.Adapter {
	return source.AdapterFunc(func(ctx context.Context, location, query string) ([]models.RawListing, error) {
		return listings, nil
	})
}

// stalled ignores its context and only returns once the test is over.
func stalled(t *testing.T) source.Adapter {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	return source.AdapterFunc(func(ctx context.Context, location, query string) ([]models.RawListing, error) {
		<-release
		return []models.RawListing{listing("Amul Late Milk", "₹1")}, nil
	})
}

func listing(title, price string) models.RawListing {
	return models.RawListing{Title: title, PriceText: price}
}

func policy() source.RetryPolicy {
	return source.RetryPolicy{MaxAttempts: 1, Timeout: 200 * time.Millisecond}
}

func newPipeline(t *testing.T, sources ...source.Source) *Pipeline {
	t.Helper()
	reg, err := source.NewRegistry(sources...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return NewPipeline(reg, source.NewRunner(quietLogger()), nil, quietLogger())
}

func milkSources() []source.Source {
	return []source.Source{
		{ID: "blinkit", Policy: policy(), Adapter: static(listing("Amul Gold Milk 500ml", "₹62"))},
		{ID: "zepto", Policy: policy(), Adapter: static(listing("Amul Gold Milk 500ml", "₹59"))},
		{ID: "jiomart", Policy: policy(), Adapter: static()},
	}
}

func claim(t *testing.T, q *queue.RedisQueue, owner string) models.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := q.Enqueue(ctx, "411048", "milk"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, err := q.DequeueNext(ctx, owner)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	return job
}

func TestProcessIsolatesFailingSources(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	mem := sink.NewMemory()
	p := newPipeline(t,
		source.Source{ID: "broken", Policy: policy(), Adapter: source.AdapterFunc(func(ctx context.Context, location, query string) ([]models.RawListing, error) {
			panic("selector exploded")
		})},
		source.Source{ID: "empty", Policy: policy(), Adapter: static()},
		source.Source{ID: "blinkit", Policy: policy(), Adapter: static(listing("Amul Taaza 1L", "₹54"), listing("Britannia Bread", "₹40"))},
		source.Source{ID: "zepto", Policy: policy(), Adapter: static(listing("Amul Taaza 1 L", "₹53"))},
		source.Source{ID: "stalled", Policy: policy(), Adapter: stalled(t)},
	)
	o := NewOrchestrator(p, q, mem, nil, quietLogger())

	job := claim(t, q, "w1")
	if err := o.Process(ctx, job, "w1"); err != nil {
		t.Fatalf("process: %v", err)
	}

	view, _ := q.GetState(ctx, job.ID)
	if view.State != models.StateCompleted || view.Progress != 100 {
		t.Fatalf("expected completed/100 got %s/%d", view.State, view.Progress)
	}
	res, err := mem.Read(ctx, job.ID)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if len(res.RankedListings) != 3 {
		t.Fatalf("expected 3 ranked listings got %d", len(res.RankedListings))
	}
	for _, l := range res.RankedListings {
		if l.SourceID != "blinkit" && l.SourceID != "zepto" {
			t.Fatalf("listing from unexpected source %s", l.SourceID)
		}
	}
	if got, ok := res.PerSourceRaw["broken"]; !ok || len(got) != 0 {
		t.Fatalf("failed source must map to an empty list")
	}
	if !res.SourceSummaries[0].Failed || res.SourceSummaries[1].Failed || !res.SourceSummaries[4].Failed {
		t.Fatalf("unexpected failure flags %+v", res.SourceSummaries)
	}
}

func TestMilkScenarioThroughProcessor(t *testing.T) {
	q := newTestQueue(t)
	mem := sink.NewMemory()
	o := NewOrchestrator(newPipeline(t, milkSources()...), q, mem, nil, quietLogger())
	proc := NewProcessor(testConfig(), q, o, "test-worker", quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- proc.Run(ctx) }()

	job, err := q.Enqueue(ctx, "411048", "milk")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		view, err := q.GetState(ctx, job.ID)
		if err != nil {
			t.Fatalf("get state: %v", err)
		}
		if view.State == models.StateCompleted {
			break
		}
		if view.State == models.StateFailed || time.Now().After(deadline) {
			t.Fatalf("job did not complete: %+v", view)
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	res, err := mem.ReadLatest(context.Background())
	if err != nil {
		t.Fatalf("read latest: %v", err)
	}
	if res.LowestPriceListing == nil || res.LowestPriceListing.SourceID != "zepto" || *res.LowestPriceListing.NumericPrice != 59 {
		t.Fatalf("expected zepto@59 got %+v", res.LowestPriceListing)
	}
	if len(res.ProductGroups) != 1 || res.ProductGroups[0].Brand != "Amul" || len(res.ProductGroups[0].Members) != 2 {
		t.Fatalf("expected one Amul group with 2 members got %+v", res.ProductGroups)
	}
}

func TestSinkFailureFailsJob(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	mem := sink.NewMemory()
	mem.FailWith(errors.New("disk full"))
	o := NewOrchestrator(newPipeline(t, milkSources()...), q, mem, nil, quietLogger())

	job := claim(t, q, "w1")
	if err := o.Process(ctx, job, "w1"); err == nil {
		t.Fatalf("expected process error on sink failure")
	}
	view, _ := q.GetState(ctx, job.ID)
	if view.State != models.StateFailed || !strings.Contains(view.Error, "disk full") {
		t.Fatalf("expected failed with sink reason got %+v", view)
	}
	dead, _ := q.DeadPeek(ctx, 10)
	if len(dead) != 1 || dead[0] != job.ID {
		t.Fatalf("expected job on dead list got %v", dead)
	}
}

func TestAllSourcesEmptyStillCompletes(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	mem := sink.NewMemory()
	o := NewOrchestrator(newPipeline(t,
		source.Source{ID: "a", Policy: policy(), Adapter: static()},
		source.Source{ID: "b", Policy: policy(), Adapter: static()},
	), q, mem, nil, quietLogger())

	job := claim(t, q, "w1")
	if err := o.Process(ctx, job, "w1"); err != nil {
		t.Fatalf("process: %v", err)
	}
	view, _ := q.GetState(ctx, job.ID)
	if view.State != models.StateCompleted {
		t.Fatalf("expected completed got %s", view.State)
	}
	res, _ := mem.Read(ctx, job.ID)
	if len(res.RankedListings) != 0 || res.LowestPriceListing != nil || len(res.ProductGroups) != 0 {
		t.Fatalf("expected empty result got %+v", res)
	}
}

type recordingQueue struct {
	*queue.RedisQueue
	mu       sync.Mutex
	progress []int
}

func (r *recordingQueue) SetProgress(ctx context.Context, jobID, owner string, progress int) error {
	r.mu.Lock()
	r.progress = append(r.progress, progress)
	r.mu.Unlock()
	return r.RedisQueue.SetProgress(ctx, jobID, owner, progress)
}

func TestProgressCheckpoints(t *testing.T) {
	ctx := context.Background()
	rq := &recordingQueue{RedisQueue: newTestQueue(t)}
	o := NewOrchestrator(newPipeline(t, milkSources()...), rq, sink.NewMemory(), nil, quietLogger())

	job := claim(t, rq.RedisQueue, "w1")
	if err := o.Process(ctx, job, "w1"); err != nil {
		t.Fatalf("process: %v", err)
	}
	want := []int{models.ProgressStarted, models.ProgressFetched, models.ProgressDone}
	if len(rq.progress) != len(want) {
		t.Fatalf("expected progress %v got %v", want, rq.progress)
	}
	for i := range want {
		if rq.progress[i] != want[i] {
			t.Fatalf("expected progress %v got %v", want, rq.progress)
		}
	}
}

func TestProcessRequiresOwnership(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	mem := sink.NewMemory()
	o := NewOrchestrator(newPipeline(t, milkSources()...), q, mem, nil, quietLogger())

	job := claim(t, q, "w1")
	if err := o.Process(ctx, job, "w2"); !errors.Is(err, queue.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner got %v", err)
	}
	if mem.Writes() != 0 {
		t.Fatalf("non-owner must not publish a result")
	}
	view, _ := q.GetState(ctx, job.ID)
	if view.State != models.StateActive {
		t.Fatalf("job should stay with its owner, got %s", view.State)
	}
}

type auditRecorder struct {
	mu     sync.Mutex
	events []string
}

func (a *auditRecorder) AppendAudit(_ context.Context, _, event, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func TestProcessWritesAuditTrail(t *testing.T) {
	q := newTestQueue(t)
	audit := &auditRecorder{}
	o := NewOrchestrator(newPipeline(t, milkSources()...), q, sink.NewMemory(), audit, quietLogger())

	job := claim(t, q, "w1")
	if err := o.Process(context.Background(), job, "w1"); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(audit.events) != 2 || audit.events[0] != "started" || audit.events[1] != "completed" {
		t.Fatalf("unexpected audit events %v", audit.events)
	}
}
