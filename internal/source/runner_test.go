package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"price-aggregator/internal/models"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    attempts,
		BackoffInitial: time.Millisecond,
		BackoffMax:     2 * time.Millisecond,
		Timeout:        50 * time.Millisecond,
	}
}

func TestRunStampsSourceID(t *testing.T) {
	r := NewRunner(quietLogger())
	src := Source{ID: "zepto", Policy: fastPolicy(1), Adapter: AdapterFunc(func(ctx context.Context, location, query string) ([]models.RawListing, error) {
		return []models.RawListing{{Title: "Amul Taaza", PriceText: "₹27"}}, nil
	})}

	out := r.Run(context.Background(), src, "411048", "milk")
	if out.Failed || len(out.Listings) != 1 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out.Listings[0].SourceID != "zepto" {
		t.Fatalf("expected source id stamped, got %q", out.Listings[0].SourceID)
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	cases := map[string]Adapter{
		"error": AdapterFunc(func(ctx context.Context, location, query string) ([]models.RawListing, error) {
			return nil, errors.New("selector not found")
		}),
		"panic": AdapterFunc(func(ctx context.Context, location, query string) ([]models.RawListing, error) {
			panic("nil page")
		}),
		"hang": AdapterFunc(func(ctx context.Context, location, query string) ([]models.RawListing, error) {
			select {} // ignores ctx entirely
		}),
	}
	wantReason := map[string]string{"error": "error", "panic": "panic", "hang": "timeout"}

	for name, adapter := range cases {
		t.Run(name, func(t *testing.T) {
			var events []FailureEvent
			r := NewRunner(quietLogger(), func(ev FailureEvent) { events = append(events, ev) })

			start := time.Now()
			out := r.Run(context.Background(), Source{ID: name, Adapter: adapter, Policy: fastPolicy(2)}, "411048", "milk")
			if time.Since(start) > time.Second {
				t.Fatalf("runner did not return promptly")
			}
			if !out.Failed || out.Listings == nil || len(out.Listings) != 0 {
				t.Fatalf("expected failed outcome with empty listings got %+v", out)
			}
			if len(events) != 1 || events[0].Attempts != 2 {
				t.Fatalf("expected one failure event after 2 attempts got %+v", events)
			}
			if got := events[0].Reason(); got != wantReason[name] {
				t.Fatalf("expected reason %s got %s", wantReason[name], got)
			}
		})
	}
}

func TestRunRetriesUntilSuccess(t *testing.T) {
	var calls int32
	adapter := AdapterFunc(func(ctx context.Context, location, query string) ([]models.RawListing, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, errors.New("flaky")
		}
		return []models.RawListing{{Title: "Gowardhan Milk"}}, nil
	})
	r := NewRunner(quietLogger())
	out := r.Run(context.Background(), Source{ID: "jiomart", Adapter: adapter, Policy: fastPolicy(3)}, "411048", "milk")
	if out.Failed || out.Attempts != 2 || len(out.Listings) != 1 {
		t.Fatalf("expected success on second attempt got %+v", out)
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	var calls int32
	adapter := AdapterFunc(func(ctx context.Context, location, query string) ([]models.RawListing, error) {
		atomic.AddInt32(&calls, 1)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewRunner(quietLogger())
	out := r.Run(ctx, Source{ID: "swiggy", Adapter: adapter, Policy: fastPolicy(5)}, "411048", "milk")
	if !out.Failed || out.Attempts != 1 {
		t.Fatalf("expected single failed attempt got %+v", out)
	}
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	noop := AdapterFunc(func(ctx context.Context, location, query string) ([]models.RawListing, error) { return nil, nil })
	if _, err := NewRegistry(Source{ID: "a", Adapter: noop}, Source{ID: "a", Adapter: noop}); err == nil {
		t.Fatalf("expected duplicate id error")
	}
	reg, err := NewRegistry(Source{ID: "b", Adapter: noop}, Source{ID: "a", Adapter: noop})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if ids := reg.IDs(); len(ids) != 2 || ids[0] != "b" || ids[1] != "a" {
		t.Fatalf("expected registration order preserved got %v", ids)
	}
}

func TestBackoffWithJitter(t *testing.T) {
	rand.Seed(1)
	base := time.Second
	max := 8 * time.Second

	b1 := BackoffWithJitter(base, max, 1)
	if b1 < base/2 || b1 > max {
		t.Fatalf("backoff out of range: %s", b1)
	}

	b3 := BackoffWithJitter(base, max, 3)
	if b3 < base || b3 > max {
		t.Fatalf("backoff out of range for attempt 3: %s", b3)
	}

	if b := BackoffWithJitter(base, max, 40); b > max {
		t.Fatalf("backoff exceeded cap: %s", b)
	}
}
