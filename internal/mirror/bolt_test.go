package mirror

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

type doc struct {
	Name  string `cbor:"name"`
	State string `cbor:"state"`
}

func openTestBolt(t *testing.T, buffer int) *Bolt {
	t.Helper()
	b, err := OpenBolt(filepath.Join(t.TempDir(), "mirror.db"), Options{WatchBuffer: buffer})
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestParsePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/groups/42/journeys/7", "/groups/42/journeys/7"},
		{"groups//42/", "/groups/42"},
		{"/", "/"},
	}
	for _, tt := range tests {
		if got := ParsePath(tt.in).String(); got != tt.want {
			t.Errorf("ParsePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	p := UserPositionsPath(42, 7, 9)
	if p.String() != "/groups/42/journeys/7/positions/9" {
		t.Errorf("UserPositionsPath = %s", p)
	}
	if !p.HasPrefix(JourneyPath(42, 7)) {
		t.Error("positions path should be under the journey path")
	}
	if JourneyPath(42, 7).HasPrefix(p) {
		t.Error("journey path is not under the positions path")
	}
}

func TestPutGetDelete(t *testing.T) {
	b := openTestBolt(t, 0)
	ctx := context.Background()

	journey := JourneyPath(42, 1)
	part := ParticipationPath(42, 1, 7)
	if err := b.Put(ctx, journey, doc{Name: "j1", State: "PENDING"}); err != nil {
		t.Fatalf("Put journey: %v", err)
	}
	if err := b.Put(ctx, part, doc{Name: "p7", State: "ACCEPTED"}); err != nil {
		t.Fatalf("Put participation: %v", err)
	}
	if err := b.Put(ctx, journey, doc{Name: "j1", State: "IN_PROGRESS"}); err != nil {
		t.Fatalf("Put journey again: %v", err)
	}

	var got doc
	if err := b.Get(ctx, journey, &got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != "IN_PROGRESS" {
		t.Errorf("state = %q, want IN_PROGRESS", got.State)
	}
	// the child must survive a parent document overwrite
	if err := b.Get(ctx, part, &got); err != nil || got.Name != "p7" {
		t.Fatalf("Get participation = %+v, %v", got, err)
	}

	if err := b.Delete(ctx, journey); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := b.Get(ctx, part, &got); !errors.Is(err, ErrNotFound) {
		t.Errorf("participation after subtree delete: %v", err)
	}
	if ok, _ := b.Exists(ctx, journey); ok {
		t.Error("journey still exists")
	}
	if ok, _ := b.Exists(ctx, GroupPath(42)); !ok {
		t.Error("group node should remain")
	}

	if err := b.Delete(ctx, journey); err != nil {
		t.Errorf("deleting a missing path: %v", err)
	}
	if err := b.Put(ctx, Path{}, doc{}); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("empty path err = %v", err)
	}
}

func TestSealRefusesLaterWrites(t *testing.T) {
	b := openTestBolt(t, 16)
	ctx := context.Background()

	journey := JourneyPath(42, 3)
	positions := UserPositionsPath(42, 3, 7)
	if err := b.Put(ctx, journey, doc{Name: "j3", State: "IN_PROGRESS"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := b.Push(ctx, positions, map[string]any{"n": 1}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	w, err := b.Watch(positions)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Close()

	if err := b.Seal(ctx, journey); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	select {
	case e := <-w.C:
		if e.Op != OpDelete || e.Path.String() != journey.String() {
			t.Errorf("event = %+v, want delete of %s", e, journey)
		}
	case <-time.After(time.Second):
		t.Fatal("no delete event for the sealed subtree")
	}

	if _, err := b.Push(ctx, positions, map[string]any{"n": 2}); !errors.Is(err, ErrSealed) {
		t.Errorf("Push under sealed path err = %v", err)
	}
	if err := b.Put(ctx, ParticipationPath(42, 3, 7), doc{Name: "p7"}); !errors.Is(err, ErrSealed) {
		t.Errorf("Put under sealed path err = %v", err)
	}
	if err := b.Put(ctx, journey, doc{Name: "j3"}); !errors.Is(err, ErrSealed) {
		t.Errorf("Put on sealed path err = %v", err)
	}
	if ok, _ := b.Exists(ctx, journey); ok {
		t.Error("sealed subtree exists")
	}
	if ok, err := b.Sealed(ctx, positions); err != nil || !ok {
		t.Errorf("Sealed(positions) = %v, %v", ok, err)
	}

	// siblings stay writable
	if err := b.Put(ctx, JourneyPath(42, 4), doc{Name: "j4"}); err != nil {
		t.Errorf("Put sibling: %v", err)
	}
	if ok, _ := b.Sealed(ctx, JourneyPath(42, 4)); ok {
		t.Error("sibling reported sealed")
	}
	if err := b.Seal(ctx, journey); err != nil {
		t.Errorf("second Seal: %v", err)
	}
	if err := b.Put(ctx, Path{"groups", "\x00sealed"}, doc{}); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("NUL element err = %v", err)
	}
}

func TestPushLast(t *testing.T) {
	b := openTestBolt(t, 0)
	ctx := context.Background()
	log := UserPositionsPath(1, 2, 3)

	for i := 1; i <= 5; i++ {
		seq, err := b.Push(ctx, log, map[string]any{"n": i})
		if err != nil {
			t.Fatalf("Push: %v", err)
		}
		if seq != uint64(i) {
			t.Fatalf("seq = %d, want %d", seq, i)
		}
	}

	last, err := b.Last(ctx, log, 1)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if len(last) != 1 || last[0].Seq != 5 {
		t.Fatalf("Last(1) = %+v", last)
	}
	var v map[string]any
	if err := last[0].Decode(&v); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v["n"] != uint64(5) {
		t.Errorf("value = %v (%T)", v["n"], v["n"])
	}

	three, err := b.Last(ctx, log, 3)
	if err != nil {
		t.Fatalf("Last(3): %v", err)
	}
	if len(three) != 3 || three[0].Seq != 3 || three[2].Seq != 5 {
		t.Errorf("Last(3) seqs = %+v, want 3..5 oldest first", three)
	}

	all, err := b.Last(ctx, log, 100)
	if err != nil || len(all) != 5 {
		t.Errorf("Last(100) = %d entries, %v", len(all), err)
	}

	empty, err := b.Last(ctx, UserPositionsPath(1, 2, 99), 1)
	if err != nil || len(empty) != 0 {
		t.Errorf("missing log = %v, %v", empty, err)
	}
}

func TestWatch(t *testing.T) {
	b := openTestBolt(t, 0)
	ctx := context.Background()

	w, err := b.Watch(PositionsPath(1, 2))
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Close()

	if err := b.Put(ctx, JourneyPath(1, 2), doc{Name: "outside"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := b.Push(ctx, UserPositionsPath(1, 2, 7), map[string]any{"n": 1}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := b.Delete(ctx, JourneyPath(1, 2)); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	want := []Op{OpPush, OpDelete}
	for _, op := range want {
		select {
		case e := <-w.C:
			if e.Op != op {
				t.Fatalf("event op = %s, want %s", e.Op, op)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", op)
		}
	}

	w.Close()
	if _, ok := <-w.C; ok {
		t.Error("channel should be closed")
	}
	if w.Err() != nil {
		t.Errorf("Err after caller close = %v", w.Err())
	}
}

func TestSlowWatcherIsClosed(t *testing.T) {
	b := openTestBolt(t, 2)
	ctx := context.Background()

	w, err := b.Watch(GroupPath(1))
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := b.Push(ctx, UserPositionsPath(1, 1, 1), i); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	n := 0
	for range w.C {
		n++
	}
	if n != 2 {
		t.Errorf("received %d events before close, want 2", n)
	}
	if !errors.Is(w.Err(), ErrSlowWatcher) {
		t.Errorf("Err = %v, want ErrSlowWatcher", w.Err())
	}
}
