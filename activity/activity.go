// Package activity is the audit-trail boundary. Records are fire-and-forget
// and written post-commit only, never inside a settlement transaction.
package activity

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Recorder captures one actor-attributed audit line.
type Recorder interface {
	Record(ctx context.Context, actorID, description string) error
}

// PGRecorder persists audit lines to the activity_logs table.
type PGRecorder struct {
	pool *pgxpool.Pool
}

func NewPGRecorder(pool *pgxpool.Pool) *PGRecorder {
	return &PGRecorder{pool: pool}
}

func (r *PGRecorder) Record(ctx context.Context, actorID, description string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO activity_logs (actor_id, description) VALUES ($1, $2)`,
		actorID, description)
	if err != nil {
		return fmt.Errorf("activity: record: %w", err)
	}
	return nil
}

// LogRecorder writes audit lines to the log only.
type LogRecorder struct {
	Log zerolog.Logger
}

func (r LogRecorder) Record(_ context.Context, actorID, description string) error {
	r.Log.Info().Str("actor_id", actorID).Str("description", description).Msg("activity")
	return nil
}
