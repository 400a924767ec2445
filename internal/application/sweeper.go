package application

import (
	"context"
	"time"

	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/ports"
	"github.com/juju/clock"
	"github.com/rs/zerolog/log"
)

// Sweeper calls target.Sweep every interval until its context ends. Lazy
// reconciliation already keeps reads correct; the sweep only bounds how long
// an expired record can sit unreconciled in storage.
type Sweeper struct {
	target   ports.Sweeper
	clock    clock.Clock
	interval time.Duration
	lock     ports.SweepLock
}

func NewSweeper(target ports.Sweeper, clk clock.Clock, interval time.Duration, lock ports.SweepLock) *Sweeper {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Sweeper{target: target, clock: clk, interval: interval, lock: lock}
}

// Run blocks until ctx is done. A non-positive interval disables the loop.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		log.Info().Msg("periodic sweep disabled")
		return
	}
	log.Info().Dur("interval", s.interval).Msg("periodic sweep started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("periodic sweep stopped")
			return
		case <-s.clock.After(s.interval):
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep if this replica holds the sweep lock.
func (s *Sweeper) RunOnce(ctx context.Context) {
	if s.lock != nil {
		release, ok := s.lock.TryLock(ctx)
		if !ok {
			return
		}
		defer release()
	}
	released, err := s.target.Sweep(ctx)
	if err != nil {
		log.Error().Err(err).Msg("periodic sweep failed")
		return
	}
	log.Debug().Int("released", released).Msg("periodic sweep finished")
}
