package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Sweeper is the slice of the repositories the scheduler drives: removal of
// expired sessions and expired reset tokens. Rows past expiry are already
// logically invalid; the sweep just reclaims them.
type SessionSweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

type ResetTokenSweeper interface {
	ClearExpiredResetTokens(ctx context.Context) (int64, error)
}

type Scheduler struct {
	cron     *cron.Cron
	sessions SessionSweeper
	users    ResetTokenSweeper
	log      zerolog.Logger
}

func NewScheduler(sessions SessionSweeper, users ResetTokenSweeper, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		sessions: sessions,
		users:    users,
		log:      log,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("@hourly", s.sweepSessions); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("@hourly", s.sweepResetTokens); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop waits for in-flight sweeps, bounded so shutdown cannot hang.
func (s *Scheduler) Stop() {
	select {
	case <-s.cron.Stop().Done():
	case <-time.After(5 * time.Second):
		s.log.Warn().Msg("scheduler stop timed out")
	}
}

func (s *Scheduler) sweepSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	removed, err := s.sessions.DeleteExpired(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("session sweep failed")
		return
	}
	if removed > 0 {
		s.log.Info().Int64("removed", removed).Msg("expired sessions swept")
	}
}

func (s *Scheduler) sweepResetTokens() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cleared, err := s.users.ClearExpiredResetTokens(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("reset token sweep failed")
		return
	}
	if cleared > 0 {
		s.log.Info().Int64("cleared", cleared).Msg("expired reset tokens cleared")
	}
}
