package resilience

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newGroup(names ...string) *FallbackGroup[string] {
	fg := NewFallbackGroup(names[0], names[0], FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	for _, n := range names[1:] {
		fg.AddFallback(n, n)
	}
	return fg
}

func TestFallbackGroup_PrimaryFirst(t *testing.T) {
	t.Parallel()

	fg := newGroup("gemini", "openai")
	var called []string
	err := fg.Execute(context.Background(), func(_ context.Context, v string) error {
		called = append(called, v)
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(called) != 1 || called[0] != "gemini" {
		t.Fatalf("called = %v, want [gemini]", called)
	}
	if fg.Primary() != "gemini" {
		t.Errorf("Primary() = %q, want gemini", fg.Primary())
	}
}

func TestFallbackGroup_Failover(t *testing.T) {
	t.Parallel()

	fg := newGroup("gemini", "openai")
	got, err := ExecuteWithResult(context.Background(), fg, func(_ context.Context, v string) (string, error) {
		if v == "gemini" {
			return "", errTest
		}
		return "from-" + v, nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if got != "from-openai" {
		t.Fatalf("result = %q, want from-openai", got)
	}
}

func TestFallbackGroup_AllFailNamesEveryProvider(t *testing.T) {
	t.Parallel()

	fg := newGroup("gemini", "openai")
	err := fg.Execute(context.Background(), func(context.Context, string) error { return errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Errorf("err = %v, want it to wrap the provider error", err)
	}
	for _, name := range []string{"gemini", "openai"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("err %q does not name %s", err, name)
		}
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()

	fg := newGroup("gemini", "openai")
	ctx := context.Background()
	primaryDown := func(_ context.Context, v string) error {
		if v == "gemini" {
			return errTest
		}
		return nil
	}
	_ = fg.Execute(ctx, primaryDown)
	_ = fg.Execute(ctx, primaryDown)

	var called []string
	if err := fg.Execute(ctx, func(_ context.Context, v string) error {
		called = append(called, v)
		return nil
	}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(called) != 1 || called[0] != "openai" {
		t.Fatalf("called = %v, want [openai] while the primary breaker is open", called)
	}

	st := fg.Statuses()
	if len(st) != 2 || st[0].State != StateOpen || st[1].State != StateClosed {
		t.Fatalf("Statuses() = %+v", st)
	}
	if err := fg.Check(ctx); err != nil {
		t.Errorf("Check() = %v, want nil while a fallback is healthy", err)
	}
}

func TestFallbackGroup_CheckFailsWhenAllOpen(t *testing.T) {
	t.Parallel()

	fg := newGroup("gemini")
	ctx := context.Background()
	_ = fg.Execute(ctx, func(context.Context, string) error { return errTest })
	_ = fg.Execute(ctx, func(context.Context, string) error { return errTest })

	if err := fg.Check(ctx); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("Check() = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroup_StopsOnCancellation(t *testing.T) {
	t.Parallel()

	fg := newGroup("gemini", "openai")
	ctx, cancel := context.WithCancel(context.Background())

	var called []string
	err := fg.Execute(ctx, func(ctx context.Context, v string) error {
		called = append(called, v)
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrAllFailed) {
		t.Error("cancellation reported as provider failure")
	}
	if len(called) != 1 {
		t.Fatalf("called = %v, want only the primary", called)
	}
	if st := fg.Statuses()[0]; st.Failures != 0 {
		t.Errorf("primary failures = %d, want 0", st.Failures)
	}
}
