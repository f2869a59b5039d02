package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/karstlabs/gantry/execution"
	"github.com/karstlabs/gantry/id"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testExecution() *execution.Execution {
	return &execution.Execution{
		ID:      id.NewExecutionID(),
		JobType: "report",
		JobName: "monthly-report",
	}
}

func TestChainOrder(t *testing.T) {
	t.Parallel()

	var order []string
	named := func(name string) Middleware {
		return func(ctx context.Context, _ *execution.Execution, next Handler) error {
			order = append(order, name+" in")
			err := next(ctx)
			order = append(order, name+" out")
			return err
		}
	}

	chain := Chain(named("outer"), named("inner"))
	err := chain(context.Background(), testExecution(), func(_ context.Context) error {
		order = append(order, "body")
		return nil
	})
	if err != nil {
		t.Fatalf("chain: %v", err)
	}

	want := []string{"outer in", "inner in", "body", "inner out", "outer out"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestEmptyChainCallsBody(t *testing.T) {
	t.Parallel()

	called := false
	err := Chain()(context.Background(), testExecution(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if !called {
		t.Fatal("expected body to run")
	}
}

func TestRecoverConvertsPanic(t *testing.T) {
	t.Parallel()

	mw := Recover(discardLogger())
	err := mw(context.Background(), testExecution(), func(_ context.Context) error {
		panic("nil map write")
	})
	if err == nil {
		t.Fatal("expected panic to become an error")
	}
	if !strings.Contains(err.Error(), "nil map write") {
		t.Fatalf("err = %v, want panic value preserved", err)
	}
}

func TestRecoverPassesThrough(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	mw := Recover(discardLogger())
	if err := mw(context.Background(), testExecution(), func(_ context.Context) error {
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if err := mw(context.Background(), testExecution(), func(_ context.Context) error {
		return nil
	}); err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
}

func TestTimeoutEnforcesDeadline(t *testing.T) {
	t.Parallel()

	mw := Timeout(10 * time.Millisecond)
	err := mw(context.Background(), testExecution(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
			return nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestTimeoutZeroDisablesDeadline(t *testing.T) {
	t.Parallel()

	mw := Timeout(0)
	err := mw(context.Background(), testExecution(), func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			t.Fatal("expected no deadline")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
}
