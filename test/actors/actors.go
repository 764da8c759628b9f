// Package actors holds the concurrent workloads for the settlement stress
// test. Each actor loops until stopped, driving one domain operation through
// the real repositories and services so row locks and guarded updates are
// exercised under contention.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"escrowflow/dispute"
	"escrowflow/escrow"
	"escrowflow/milestone"
)

// Funder hammers escrow funding for one project. Every call after the first
// must be an idempotent no-op; any other outcome is an actor failure.
func Funder(ctx context.Context, escrows *escrow.Repository, projectID string, amount float64, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		e, err := escrows.Fund(ctx, projectID, amount)
		if err != nil {
			return fmt.Errorf("funder: %w", err)
		}
		if e.OriginalAmount != amount {
			return fmt.Errorf("funder: original amount drifted to %.2f", e.OriginalAmount)
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Resolver races binding resolutions for one dispute. Exactly one attempt
// across all resolvers may succeed; the rest must observe ErrAlreadyResolved.
func Resolver(ctx context.Context, engine *dispute.Engine, params dispute.ResolveParams, wins *atomic.Int64, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		_, err := engine.Resolve(ctx, params)
		switch {
		case err == nil:
			wins.Add(1)
		case errors.Is(err, dispute.ErrAlreadyResolved):
			// expected after the winner commits
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		default:
			return fmt.Errorf("resolver: %w", err)
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Confirmer plays the client racing the auto-release sweep for one submitted
// milestone. Losing the race surfaces as ErrInvalidState, which is the
// expected outcome for all but one contender.
func Confirmer(ctx context.Context, svc *milestone.Service, clientID, milestoneID string, wins *atomic.Int64, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		_, err := svc.Confirm(ctx, clientID, milestoneID)
		switch {
		case err == nil:
			wins.Add(1)
		case errors.Is(err, milestone.ErrInvalidState):
			// another actor moved the milestone first
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		default:
			return fmt.Errorf("confirmer: %w", err)
		}
		time.Sleep(time.Duration(15+rand.Intn(30)) * time.Millisecond)
	}
}

// AutoReleaser plays the sweep loop against one lapsed milestone.
func AutoReleaser(ctx context.Context, svc *milestone.Service, milestoneID string, wins *atomic.Int64, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		_, err := svc.AutoRelease(ctx, milestoneID)
		switch {
		case err == nil:
			wins.Add(1)
		case errors.Is(err, milestone.ErrInvalidState):
			// confirmed, disputed or already released by someone else
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		default:
			return fmt.Errorf("auto releaser: %w", err)
		}
		time.Sleep(time.Duration(15+rand.Intn(30)) * time.Millisecond)
	}
}

// Refunder drips small refunds out of an escrow until the pool rejects them.
// The conservation oracle verifies that the refunded total never breaches the
// original amount no matter how many drips land.
func Refunder(ctx context.Context, escrows *escrow.Repository, escrowID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		_, err := escrows.Refund(ctx, escrowID, 1, "stress drip refund")
		switch {
		case err == nil:
		case errors.Is(err, escrow.ErrInsufficientFunds), errors.Is(err, escrow.ErrTerminal):
			// drained or closed; keep probing, the state may not change back
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		default:
			return fmt.Errorf("refunder: %w", err)
		}
		time.Sleep(time.Duration(25+rand.Intn(50)) * time.Millisecond)
	}
}

// Filer keeps trying to open a second dispute on a project that already has a
// live one. The partial unique index must reject every attempt.
func Filer(ctx context.Context, repo *dispute.Repository, params dispute.FileParams, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		_, err := repo.File(ctx, params)
		switch {
		case err == nil:
			// a slot opened up (previous dispute resolved or withdrawn)
		case errors.Is(err, dispute.ErrOpenDisputeExists):
			// expected while a dispute is live
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		default:
			return fmt.Errorf("filer: %w", err)
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}
