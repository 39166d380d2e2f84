package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"gopkg.in/tomb.v2"
)

type countingExpirer struct {
	calls  atomic.Int32
	cutoff atomic.Int64
}

func (c *countingExpirer) ExpireStale(_ context.Context, cutoff time.Time) (int, error) {
	c.calls.Add(1)
	c.cutoff.Store(cutoff.UnixNano())
	return 0, nil
}

type countingRepairer struct {
	calls atomic.Int32
}

func (c *countingRepairer) Repair(context.Context) (int, error) {
	c.calls.Add(1)
	return 0, nil
}

func TestSweeperRunsUntilKilled(t *testing.T) {
	exp := &countingExpirer{}
	rep := &countingRepairer{}
	s := NewSweeper(exp, rep, SweeperConfig{
		Retention:      time.Hour,
		ExpiryInterval: 5 * time.Millisecond,
		RepairInterval: 5 * time.Millisecond,
	})

	var tb tomb.Tomb
	s.Start(&tb)

	deadline := time.Now().Add(2 * time.Second)
	for exp.calls.Load() == 0 || rep.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("sweeps did not run: expiry=%d repair=%d", exp.calls.Load(), rep.calls.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	tb.Kill(nil)
	if err := tb.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	cutoff := time.Unix(0, exp.cutoff.Load())
	if age := time.Since(cutoff); age < time.Hour-time.Minute || age > time.Hour+time.Minute {
		t.Errorf("cutoff is %v old, want about 1h", age)
	}
}

func TestSweeperExpiresStaleRequests(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.openRequest(t, 1)

	s := NewSweeper(h.companions, h.syncer, SweeperConfig{Retention: time.Nanosecond})
	time.Sleep(time.Millisecond)
	s.ExpireOnce(ctx)
	s.RepairOnce(ctx)

	got, err := h.companions.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.State.Terminal() {
		t.Errorf("state = %s, want EXPIRED", got.State)
	}
	if h.syncer.Pending() != 0 {
		t.Errorf("repair backlog = %d", h.syncer.Pending())
	}
}
