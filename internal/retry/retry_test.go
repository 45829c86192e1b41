package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestDo_succeedsAfterTransientFailures(t *testing.T) {
	calls := 0
	attempts, err := Do(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 3 || calls != 3 {
		t.Errorf("attempts = %d, calls = %d, want 3", attempts, calls)
	}
}

func TestDo_boundedAttempts(t *testing.T) {
	boom := errors.New("boom")
	attempts, err := Do(context.Background(), fastPolicy(4), func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if attempts != 4 {
		t.Errorf("attempts = %d, want 4", attempts)
	}
}

func TestDo_permanentStopsImmediately(t *testing.T) {
	bad := errors.New("bad request")
	attempts, err := Do(context.Background(), fastPolicy(5), func(context.Context) error { return Permanent(bad) })
	if !errors.Is(err, bad) {
		t.Fatalf("err = %v, want bad request", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestDo_contextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts, err := Do(ctx, Policy{MaxAttempts: 100, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}, func(context.Context) error {
		cancel()
		return errors.New("flaky")
	})
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestDo_zeroAttemptsRunsOnce(t *testing.T) {
	attempts, _ := Do(context.Background(), Policy{}, func(context.Context) error { return errors.New("x") })
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestIsPermanent(t *testing.T) {
	if !IsPermanent(Permanent(errors.New("x"))) {
		t.Error("Permanent error not detected")
	}
	if IsPermanent(errors.New("x")) {
		t.Error("plain error reported permanent")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}
