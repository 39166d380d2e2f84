package mirror

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"GOSAFE_BACK-END/internal/logging"
	"GOSAFE_BACK-END/internal/metrics"
)

// Writer is the subset of the mirror the Syncer needs.
type Writer interface {
	Put(ctx context.Context, p Path, v any) error
	Delete(ctx context.Context, p Path) error
	Seal(ctx context.Context, p Path) error
}

// Mutation is one projected write. Value is ignored for deletes.
type Mutation struct {
	Op    Op
	Path  Path
	Value any
}

func PutOp(p Path, v any) Mutation { return Mutation{Op: OpPut, Path: p, Value: v} }

func DeleteOp(p Path) Mutation { return Mutation{Op: OpDelete, Path: p} }

// SealOp deletes p and blocks later writes under it, so late projections
// cannot bring the subtree back.
func SealOp(p Path) Mutation { return Mutation{Op: OpSeal, Path: p} }

func (m Mutation) apply(ctx context.Context, w Writer) error {
	switch m.Op {
	case OpPut:
		return w.Put(ctx, m.Path, m.Value)
	case OpDelete:
		return w.Delete(ctx, m.Path)
	case OpSeal:
		return w.Seal(ctx, m.Path)
	default:
		return fmt.Errorf("mirror: unsupported op %q", m.Op)
	}
}

// supersedes reports whether m, once applied, makes an older queued mutation o pointless.
func (m Mutation) supersedes(o Mutation) bool {
	if m.Op == OpDelete || m.Op == OpSeal {
		return o.Path.HasPrefix(m.Path)
	}
	return len(o.Path) == len(m.Path) && o.Path.HasPrefix(m.Path)
}

// Syncer projects backend changes into the mirror. The backend is authoritative:
// a mutation that still fails after one retry is logged, counted and queued for
// Repair, and Apply reports ErrMirrorWriteFailed so the caller can log it
// without failing its backend write.
type Syncer struct {
	w   Writer
	log zerolog.Logger

	mu         sync.Mutex
	queue      []queued
	nextID     uint64
	maxBacklog int
}

type queued struct {
	id uint64
	m  Mutation
}

// NewSyncer returns a Syncer writing to w. maxBacklog bounds the repair queue;
// the oldest mutations are dropped beyond it.
func NewSyncer(w Writer, maxBacklog int) *Syncer {
	if maxBacklog <= 0 {
		maxBacklog = 10000
	}
	return &Syncer{w: w, log: logging.For("mirror.syncer"), maxBacklog: maxBacklog}
}

// Apply writes muts in order. Writes under a sealed path are skipped.
func (s *Syncer) Apply(ctx context.Context, muts ...Mutation) error {
	var errs []error
	for _, m := range muts {
		err := m.apply(ctx, s.w)
		if err != nil && ctx.Err() == nil && !errors.Is(err, ErrSealed) {
			err = m.apply(ctx, s.w)
		}
		if err == nil {
			s.drop(m)
			continue
		}
		if errors.Is(err, ErrSealed) {
			// the subtree is closed for good
			s.log.Debug().Str(logging.OP, string(m.Op)).Str(logging.PATH, m.Path.String()).Msg("write to sealed path skipped")
			continue
		}
		metrics.MirrorWriteFailures.WithLabelValues(string(m.Op)).Inc()
		s.log.Warn().Err(err).
			Str(logging.OP, string(m.Op)).
			Str(logging.PATH, m.Path.String()).
			Msg("mirror write failed, queued for repair")
		s.enqueue(m)
		errs = append(errs, fmt.Errorf("%s %s: %w", m.Op, m.Path, err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrMirrorWriteFailed, errors.Join(errs...))
	}
	return nil
}

// Repair re-applies queued mutations in order and stops at the first failure.
// It returns how many were applied.
func (s *Syncer) Repair(ctx context.Context) (int, error) {
	s.mu.Lock()
	pending := append([]queued(nil), s.queue...)
	s.mu.Unlock()

	repaired := 0
	for _, q := range pending {
		if err := ctx.Err(); err != nil {
			return repaired, err
		}
		if err := q.m.apply(ctx, s.w); err != nil && !errors.Is(err, ErrSealed) {
			return repaired, fmt.Errorf("repair %s %s: %w", q.m.Op, q.m.Path, err)
		}
		s.remove(q.id)
		repaired++
	}
	if repaired > 0 {
		s.log.Info().Int("repaired", repaired).Int("pending", s.Pending()).Msg("mirror repaired")
	}
	return repaired, nil
}

// Pending is the repair backlog.
func (s *Syncer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Syncer) enqueue(m Mutation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = filterOut(s.queue, m)
	s.nextID++
	s.queue = append(s.queue, queued{id: s.nextID, m: m})
	if over := len(s.queue) - s.maxBacklog; over > 0 {
		s.log.Error().Int("dropped", over).Msg("mirror repair backlog full, dropping oldest")
		s.queue = append([]queued(nil), s.queue[over:]...)
	}
	metrics.MirrorRepairBacklog.Set(float64(len(s.queue)))
}

// drop forgets queued mutations made obsolete by m having succeeded.
func (s *Syncer) drop(m Mutation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return
	}
	s.queue = filterOut(s.queue, m)
	metrics.MirrorRepairBacklog.Set(float64(len(s.queue)))
}

// remove deletes a repaired entry. A concurrent Apply may already have dropped
// or replaced it.
func (s *Syncer) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, q := range s.queue {
		if q.id == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			break
		}
	}
	metrics.MirrorRepairBacklog.Set(float64(len(s.queue)))
}

func filterOut(queue []queued, m Mutation) []queued {
	out := queue[:0]
	for _, q := range queue {
		if !m.supersedes(q.m) {
			out = append(out, q)
		}
	}
	return out
}
