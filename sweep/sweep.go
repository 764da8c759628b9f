// Package sweep runs the auto-release loop. Submitted milestones whose review
// window has lapsed without client action are released to the freelancer.
package sweep

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"escrowflow/milestone"
)

// Releaser is the slice of the milestone service the sweeper drives.
type Releaser interface {
	ListAutoReleasable(ctx context.Context, now time.Time, limit int) ([]string, error)
	AutoRelease(ctx context.Context, id string) (milestone.Milestone, error)
}

// Options tune the sweep cadence and fan-out.
type Options struct {
	Interval    time.Duration
	BatchSize   int
	Concurrency int
}

// Sweeper periodically scans for lapsed review windows and releases them.
type Sweeper struct {
	releaser Releaser
	opts     Options
	log      zerolog.Logger
}

func New(releaser Releaser, opts Options, log zerolog.Logger) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Sweeper{releaser: releaser, opts: opts, log: log}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			released, err := s.SweepOnce(ctx)
			if err != nil {
				s.log.Error().Err(err).Msg("sweep failed")
				continue
			}
			if released > 0 {
				s.log.Info().Int("released", released).Msg("auto-release sweep")
			}
		}
	}
}

// SweepOnce releases one batch of lapsed milestones and reports how many went
// through. A milestone that changed state between the scan and the release is
// skipped, not an error: the client confirmed or disputed first and that
// outcome stands.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	ids, err := s.releaser.ListAutoReleasable(ctx, time.Now().UTC(), s.opts.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	released := make(chan struct{}, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			_, err := s.releaser.AutoRelease(gctx, id)
			switch {
			case err == nil:
				released <- struct{}{}
				return nil
			case errors.Is(err, milestone.ErrInvalidState), errors.Is(err, milestone.ErrNotFound):
				s.log.Debug().Str("milestone_id", id).Err(err).Msg("auto-release skipped")
				return nil
			default:
				s.log.Warn().Str("milestone_id", id).Err(err).Msg("auto-release failed")
				return err
			}
		})
	}
	err = g.Wait()
	close(released)
	return len(released), err
}
