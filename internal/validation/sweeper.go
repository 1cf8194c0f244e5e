package validation

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mcphub-dev/mcphub/internal/database"
	"github.com/mcphub-dev/mcphub/pkg/models"
)

// Sweeper re-enqueues registrations stuck in VALIDATING, typically after a
// crash mid-run. A registration counts as stuck once it has not been
// touched for stuckAge.
type Sweeper struct {
	store    database.Store
	pipeline *Pipeline
	log      *logrus.Logger
	interval time.Duration
	stuckAge time.Duration
}

// NewSweeper builds a sweeper scanning every interval for VALIDATING
// registrations older than stuckAge.
func NewSweeper(store database.Store, pipeline *Pipeline, log *logrus.Logger, interval, stuckAge time.Duration) *Sweeper {
	return &Sweeper{store: store, pipeline: pipeline, log: log, interval: interval, stuckAge: stuckAge}
}

// Run blocks until ctx is cancelled, sweeping on each tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	regs, err := s.store.ListRegistrationsByStatus(ctx, models.RegistrationValidating)
	if err != nil {
		s.log.WithError(err).Warn("validation sweep failed")
		return
	}

	cutoff := time.Now().UTC().Add(-s.stuckAge)
	for _, reg := range regs {
		if reg.UpdatedAt.After(cutoff) {
			continue
		}
		s.log.WithFields(logrus.Fields{
			"registration": reg.ID,
			"age":          time.Since(reg.UpdatedAt).Round(time.Second),
		}).Warn("re-enqueueing stuck validation")

		// Move to VALIDATION_FAILED so a fresh run can claim VALIDATING.
		if _, err := s.store.SetRegistrationValidationResult(ctx, reg.ID, models.RegistrationValidationFailed, "validation interrupted", time.Now().UTC()); err != nil {
			s.log.WithError(err).WithField("registration", reg.ID).Warn("failed to reset stuck validation")
			continue
		}
		s.pipeline.Trigger(reg.ID)
	}
}
