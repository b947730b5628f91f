package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/prospectiq/credit-server-go/internal/config"
)

// SweepJob runs the expiration sweep on a fixed interval. The sweep itself is
// idempotent, so the ticker may overlap with the HTTP-triggered job endpoint
// without double-expiring anything.
type SweepJob struct {
	sweep    func(ctx context.Context) error
	interval time.Duration
	done     chan struct{}
}

func NewSweepJob(sweep func(ctx context.Context) error, interval time.Duration) *SweepJob {
	return &SweepJob{
		sweep:    sweep,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *SweepJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("expiration sweep job started")
}

func (j *SweepJob) Stop() {
	close(j.done)
	log.Info().Msg("expiration sweep job stopped")
}

func (j *SweepJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.runSweep()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.runSweep()
		}
	}
}

func (j *SweepJob) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), config.SweepRunTimeout)
	defer cancel()

	if err := j.sweep(ctx); err != nil {
		log.Error().Err(err).Msg("scheduled expiration sweep failed")
	}
}
