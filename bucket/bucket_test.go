package bucket

import (
	"context"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
)

func TestNew(t *testing.T) {
	cases := []struct {
		rate       Rate
		quantum    uint64
		resolution time.Duration
	}{
		{
			rate:       1 * TPS,
			quantum:    1,
			resolution: time.Second,
		},
		{
			rate:       3 * MTPS,
			quantum:    3,
			resolution: time.Microsecond,
		},
		{
			rate:       250 * TPS,
			quantum:    1,
			resolution: 4 * time.Millisecond,
		},
	}

	for _, c := range cases {
		b := New(c.rate, 0, testclock.NewClock(time.Time{}))
		if b.quantum != c.quantum {
			t.Errorf("invalid quantum: want=%v get=%v", c.quantum, b.quantum)
		}
		if b.resolution != c.resolution {
			t.Errorf("invalid resolution: want=%v get=%v", c.resolution,
				b.resolution)
		}
	}
}

func TestUnlimited(t *testing.T) {
	b := New(Unlimited, 0, nil)
	if !b.Unlimited() {
		t.Fatal("bucket is not unlimited")
	}
	if !b.Has(1000) || !b.Get(1000) || b.When(1000) != 0 {
		t.Error("bucket is not unlimited")
	}
	if err := b.Wait(context.Background(), 1e11); err != nil {
		t.Errorf("cannot wait on an unlimited bucket: %v", err)
	}
}

func TestFill(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))
	b := New(10*TPS, 5, clk)

	if b.Has(1) {
		t.Error("new bucket is not empty")
	}
	if w := b.When(2); w != 200*time.Millisecond {
		t.Errorf("invalid when: want=%v got=%v", 200*time.Millisecond, w)
	}

	clk.Advance(150 * time.Millisecond)
	if !b.Get(1) {
		t.Error("cannot get a token after 150ms")
	}
	if b.Get(1) {
		t.Error("got more tokens than generated")
	}
	if w := b.When(1); w != 50*time.Millisecond {
		t.Errorf("invalid when: want=%v got=%v", 50*time.Millisecond, w)
	}

	clk.Advance(time.Hour)
	if !b.Get(5) || b.Has(1) {
		t.Error("bucket is not capped at max")
	}
}

func TestWait(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))
	b := New(1*TPS, 1, clk)

	done := make(chan error, 1)
	go func() { done <- b.Wait(context.Background(), 1) }()

	if err := clk.WaitAdvance(time.Second, time.Second, 1); err != nil {
		t.Fatalf("waiter is not blocked on the clock: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("cannot wait: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("wait is not unblocked")
	}

	if err := b.Wait(context.Background(), 2); err == nil {
		t.Error("can wait for more than max tokens")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Wait(ctx, 1); err != context.Canceled {
		t.Errorf("invalid error for a cancelled wait: %v", err)
	}
}
