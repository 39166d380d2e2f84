package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/tomb.v2"

	"GOSAFE_BACK-END/internal/logging"
)

// Repairer re-applies mirror writes that failed. *mirror.Syncer implements it.
type Repairer interface {
	Repair(ctx context.Context) (int, error)
}

// Expirer closes stale companion requests. *Companions implements it.
type Expirer interface {
	ExpireStale(ctx context.Context, cutoff time.Time) (int, error)
}

// SweeperConfig controls the background workers. A zero interval disables that worker.
type SweeperConfig struct {
	Retention      time.Duration
	ExpiryInterval time.Duration
	RepairInterval time.Duration
	// Timeout bounds one sweep. Defaults to 30s.
	Timeout time.Duration
}

// Sweeper runs the companion expiry sweep and the mirror repair sweep.
type Sweeper struct {
	expirer  Expirer
	repairer Repairer
	cfg      SweeperConfig
	log      zerolog.Logger
	now      func() time.Time
}

func NewSweeper(expirer Expirer, repairer Repairer, cfg SweeperConfig) *Sweeper {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Sweeper{
		expirer:  expirer,
		repairer: repairer,
		cfg:      cfg,
		log:      logging.For("sweeper"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the workers on t. They stop when t starts dying.
func (s *Sweeper) Start(t *tomb.Tomb) {
	if s.expirer != nil && s.cfg.ExpiryInterval > 0 && s.cfg.Retention > 0 {
		t.Go(func() error {
			s.loop(t, s.cfg.ExpiryInterval, s.ExpireOnce)
			return nil
		})
	}
	if s.repairer != nil && s.cfg.RepairInterval > 0 {
		t.Go(func() error {
			s.loop(t, s.cfg.RepairInterval, s.RepairOnce)
			return nil
		})
	}
}

func (s *Sweeper) loop(t *tomb.Tomb, every time.Duration, run func(ctx context.Context)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-t.Dying():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(t.Context(context.Background()), s.cfg.Timeout)
			run(ctx)
			cancel()
		}
	}
}

// ExpireOnce expires requests older than the retention window.
func (s *Sweeper) ExpireOnce(ctx context.Context) {
	n, err := s.expirer.ExpireStale(ctx, s.now().Add(-s.cfg.Retention))
	if err != nil {
		s.log.Error().Err(err).Int("expired", n).Msg("companion expiry sweep failed")
		return
	}
	if n > 0 {
		s.log.Info().Int("expired", n).Msg("companion requests expired")
	}
}

// RepairOnce drains the mirror repair queue as far as it can.
func (s *Sweeper) RepairOnce(ctx context.Context) {
	if _, err := s.repairer.Repair(ctx); err != nil {
		s.log.Warn().Err(err).Msg("mirror repair incomplete")
	}
}
