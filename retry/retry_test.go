package retry_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/karstlabs/gantry/retry"
)

func TestConstant_ReturnsFixedDelay(t *testing.T) {
	c := retry.NewConstant(5 * time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, 5*time.Second)
		}
	}
}

func TestExponential_DoublesEachAttempt(t *testing.T) {
	e := retry.NewExponential(time.Second, time.Hour)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},  // 1 * 2^0
		{2, 2 * time.Second},  // 1 * 2^1
		{3, 4 * time.Second},  // 1 * 2^2
		{4, 8 * time.Second},  // 1 * 2^3
		{5, 16 * time.Second}, // 1 * 2^4
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_CapsAtMax(t *testing.T) {
	e := retry.NewExponential(time.Second, 10*time.Second)

	if got := e.Delay(10); got != 10*time.Second {
		t.Errorf("Delay(10) = %v, want %v (capped at Max)", got, 10*time.Second)
	}
}

func TestExponentialWithJitter_StaysWithinBounds(t *testing.T) {
	e := retry.NewExponentialWithJitter(time.Second, time.Minute)

	for attempt := 1; attempt <= 8; attempt++ {
		for range 50 {
			got := e.Delay(attempt)
			if got < 0 {
				t.Fatalf("Delay(%d) = %v, want >= 0", attempt, got)
			}
			if got > time.Minute {
				t.Fatalf("Delay(%d) = %v, want <= %v", attempt, got, time.Minute)
			}
		}
	}
}

func TestPermanent_MarksError(t *testing.T) {
	base := errors.New("malformed input")
	perm := retry.Permanent(base)

	if !retry.IsPermanent(perm) {
		t.Fatal("expected IsPermanent to be true")
	}
	if perm.Error() != base.Error() {
		t.Errorf("Error() = %q, want %q", perm.Error(), base.Error())
	}
	if !errors.Is(perm, base) {
		t.Error("expected errors.Is to reach the wrapped error")
	}
}

func TestPermanent_SurvivesWrapping(t *testing.T) {
	perm := retry.Permanent(errors.New("bad tenant config"))
	wrapped := fmt.Errorf("job body: %w", perm)

	if !retry.IsPermanent(wrapped) {
		t.Fatal("expected IsPermanent to survive fmt.Errorf wrapping")
	}
}

func TestPermanent_NilAndPlainErrors(t *testing.T) {
	if retry.Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
	if retry.IsPermanent(errors.New("transient")) {
		t.Error("plain error should not be permanent")
	}
	if retry.IsPermanent(nil) {
		t.Error("nil should not be permanent")
	}
}
