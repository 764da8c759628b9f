package escrow

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound          = errors.New("escrow: not found")
	ErrInsufficientFunds = errors.New("escrow: insufficient funds")
	ErrInvalidAmount     = errors.New("escrow: invalid amount")
	ErrTerminal          = errors.New("escrow: escrow is in a terminal status")
)

// centsEpsilon absorbs float representation noise when comparing amounts that
// are stored as numeric(12,2).
const centsEpsilon = 0.005

const escrowColumns = `
	e.id, e.project_id, e.amount, e.original_amount, e.adjusted_amount,
	e.refunded_amount, e.status::text, e.created_at, e.updated_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Fund creates the escrow for a project in funded status. The call is
// idempotent: a second fund for the same project returns the existing row and
// never touches original_amount.
func (r *Repository) Fund(ctx context.Context, projectID string, amount float64) (Escrow, error) {
	if amount <= 0 {
		return Escrow{}, ErrInvalidAmount
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Escrow{}, fmt.Errorf("escrow: begin fund: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertSQL = `
		INSERT INTO escrows (project_id, amount, original_amount, status)
		VALUES ($1, $2, $2, 'funded')
		ON CONFLICT (project_id) DO NOTHING
		RETURNING ` + escrowSelf

	e, err := scanEscrow(tx.QueryRow(ctx, insertSQL, projectID, amount))
	switch {
	case err == nil:
		if err := insertAdjustment(ctx, tx, e.ID, 0, e.Amount, 0, "escrow funded"); err != nil {
			return Escrow{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return Escrow{}, fmt.Errorf("escrow: commit fund: %w", err)
		}
		return e, nil
	case errors.Is(err, pgx.ErrNoRows):
		// Already funded; the original amount stands.
		return r.GetByProject(ctx, projectID)
	default:
		return Escrow{}, fmt.Errorf("escrow: fund: %w", err)
	}
}

func (r *Repository) GetByProject(ctx context.Context, projectID string) (Escrow, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrows e WHERE e.project_id = $1`
	e, err := scanEscrow(r.pool.QueryRow(ctx, query, projectID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Escrow{}, ErrNotFound
		}
		return Escrow{}, fmt.Errorf("escrow: get by project: %w", err)
	}
	return e, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (Escrow, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrows e WHERE e.id = $1`
	e, err := scanEscrow(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Escrow{}, ErrNotFound
		}
		return Escrow{}, fmt.Errorf("escrow: get: %w", err)
	}
	return e, nil
}

// History returns the adjustment entries for an escrow, oldest first.
func (r *Repository) History(ctx context.Context, escrowID string) ([]Adjustment, error) {
	const query = `
		SELECT id, escrow_id, previous_amount, new_amount, refund_amount, reason, created_at
		FROM escrow_adjustments
		WHERE escrow_id = $1
		ORDER BY id`

	rows, err := r.pool.Query(ctx, query, escrowID)
	if err != nil {
		return nil, fmt.Errorf("escrow: history: %w", err)
	}
	defer rows.Close()

	out := make([]Adjustment, 0, 8)
	for rows.Next() {
		var a Adjustment
		if err := rows.Scan(&a.ID, &a.EscrowID, &a.PreviousAmount, &a.NewAmount, &a.RefundAmount, &a.Reason, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("escrow: scan adjustment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("escrow: iterate history: %w", err)
	}
	return out, nil
}

// LockByProjectTx loads the escrow for a project under FOR UPDATE inside the
// caller's transaction.
func (r *Repository) LockByProjectTx(ctx context.Context, tx pgx.Tx, projectID string) (Escrow, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrows e WHERE e.project_id = $1 FOR UPDATE`
	e, err := scanEscrow(tx.QueryRow(ctx, query, projectID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Escrow{}, ErrNotFound
		}
		return Escrow{}, fmt.Errorf("escrow: lock by project: %w", err)
	}
	return e, nil
}

// ReleaseTx moves delta out of the pool toward the payee inside the caller's
// transaction. The escrow becomes released when drained to zero.
func (r *Repository) ReleaseTx(ctx context.Context, tx pgx.Tx, escrowID string, delta float64, reason string) (Escrow, error) {
	if delta <= 0 {
		return Escrow{}, ErrInvalidAmount
	}

	e, err := lockByID(ctx, tx, escrowID)
	if err != nil {
		return Escrow{}, err
	}
	if e.Status.Terminal() {
		return Escrow{}, ErrTerminal
	}
	if delta > e.Amount+centsEpsilon {
		return Escrow{}, ErrInsufficientFunds
	}

	newAmount := round2(e.Amount - delta)
	status := e.Status
	if newAmount <= centsEpsilon {
		newAmount = 0
		status = StatusReleased
	}

	return applyAmounts(ctx, tx, e, newAmount, e.RefundedAmount, status, reason)
}

// RefundTx moves delta back toward the original payer inside the caller's
// transaction.
func (r *Repository) RefundTx(ctx context.Context, tx pgx.Tx, escrowID string, delta float64, reason string) (Escrow, error) {
	if delta <= 0 {
		return Escrow{}, ErrInvalidAmount
	}
	if reason == "" {
		return Escrow{}, fmt.Errorf("escrow: refund reason required: %w", ErrInvalidAmount)
	}

	e, err := lockByID(ctx, tx, escrowID)
	if err != nil {
		return Escrow{}, err
	}
	if e.Status.Terminal() {
		return Escrow{}, ErrTerminal
	}
	if delta > e.Amount+centsEpsilon {
		return Escrow{}, ErrInsufficientFunds
	}

	newAmount := round2(e.Amount - delta)
	newRefunded := round2(e.RefundedAmount + delta)
	if newRefunded+newAmount > e.OriginalAmount+centsEpsilon {
		return Escrow{}, ErrInsufficientFunds
	}

	status := StatusPartialRefund
	if newAmount <= centsEpsilon {
		newAmount = 0
		status = StatusRefunded
	}

	return applyAmounts(ctx, tx, e, newAmount, newRefunded, status, reason)
}

// AdjustForAgreementSyncTx re-bases the held amount when the underlying
// agreement's committed total changes. An upward adjustment raises the
// original amount so the conservation bound keeps holding.
func (r *Repository) AdjustForAgreementSyncTx(ctx context.Context, tx pgx.Tx, escrowID string, newAmount float64, reason string) (Escrow, error) {
	if newAmount < 0 {
		return Escrow{}, ErrInvalidAmount
	}

	e, err := lockByID(ctx, tx, escrowID)
	if err != nil {
		return Escrow{}, err
	}
	if e.Status.Terminal() {
		return Escrow{}, ErrTerminal
	}

	const updateSQL = `
		UPDATE escrows
		SET amount = $2,
		    adjusted_amount = $2,
		    original_amount = GREATEST(original_amount, $2 + refunded_amount),
		    status = 'adjusted',
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + escrowSelf

	updated, err := scanEscrow(tx.QueryRow(ctx, updateSQL, escrowID, newAmount))
	if err != nil {
		return Escrow{}, fmt.Errorf("escrow: adjust: %w", err)
	}
	if err := insertAdjustment(ctx, tx, e.ID, e.Amount, newAmount, 0, reason); err != nil {
		return Escrow{}, err
	}
	return updated, nil
}

// ApplyResolutionTx sets the post-arbitration amounts directly, used by the
// dispute engine once a binding decision fixes the split.
func (r *Repository) ApplyResolutionTx(ctx context.Context, tx pgx.Tx, escrowID string, amount, refunded float64, status Status, reason string) (Escrow, error) {
	if amount < 0 || refunded < 0 {
		return Escrow{}, ErrInvalidAmount
	}

	e, err := lockByID(ctx, tx, escrowID)
	if err != nil {
		return Escrow{}, err
	}
	if e.Status.Terminal() {
		return Escrow{}, ErrTerminal
	}
	if amount+refunded > e.OriginalAmount+centsEpsilon {
		return Escrow{}, ErrInsufficientFunds
	}

	return applyAmounts(ctx, tx, e, amount, refunded, status, reason)
}

// Release runs ReleaseTx in its own transaction.
func (r *Repository) Release(ctx context.Context, escrowID string, delta float64, reason string) (Escrow, error) {
	return r.inTx(ctx, func(tx pgx.Tx) (Escrow, error) {
		return r.ReleaseTx(ctx, tx, escrowID, delta, reason)
	})
}

// Refund runs RefundTx in its own transaction.
func (r *Repository) Refund(ctx context.Context, escrowID string, delta float64, reason string) (Escrow, error) {
	return r.inTx(ctx, func(tx pgx.Tx) (Escrow, error) {
		return r.RefundTx(ctx, tx, escrowID, delta, reason)
	})
}

// AdjustForAgreementSync runs AdjustForAgreementSyncTx in its own transaction.
func (r *Repository) AdjustForAgreementSync(ctx context.Context, escrowID string, newAmount float64, reason string) (Escrow, error) {
	return r.inTx(ctx, func(tx pgx.Tx) (Escrow, error) {
		return r.AdjustForAgreementSyncTx(ctx, tx, escrowID, newAmount, reason)
	})
}

func (r *Repository) inTx(ctx context.Context, fn func(tx pgx.Tx) (Escrow, error)) (Escrow, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Escrow{}, fmt.Errorf("escrow: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	e, err := fn(tx)
	if err != nil {
		return Escrow{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Escrow{}, fmt.Errorf("escrow: commit: %w", err)
	}
	return e, nil
}

func lockByID(ctx context.Context, tx pgx.Tx, escrowID string) (Escrow, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrows e WHERE e.id = $1 FOR UPDATE`
	e, err := scanEscrow(tx.QueryRow(ctx, query, escrowID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Escrow{}, ErrNotFound
		}
		return Escrow{}, fmt.Errorf("escrow: lock: %w", err)
	}
	return e, nil
}

func applyAmounts(ctx context.Context, tx pgx.Tx, e Escrow, amount, refunded float64, status Status, reason string) (Escrow, error) {
	const updateSQL = `
		UPDATE escrows
		SET amount = $2, refunded_amount = $3, status = $4, updated_at = now()
		WHERE id = $1
		RETURNING ` + escrowSelf

	updated, err := scanEscrow(tx.QueryRow(ctx, updateSQL, e.ID, amount, refunded, string(status)))
	if err != nil {
		return Escrow{}, fmt.Errorf("escrow: apply amounts: %w", err)
	}

	refundDelta := round2(refunded - e.RefundedAmount)
	if err := insertAdjustment(ctx, tx, e.ID, e.Amount, amount, refundDelta, reason); err != nil {
		return Escrow{}, err
	}
	return updated, nil
}

func insertAdjustment(ctx context.Context, tx pgx.Tx, escrowID string, prev, next, refund float64, reason string) error {
	const insertSQL = `
		INSERT INTO escrow_adjustments (escrow_id, previous_amount, new_amount, refund_amount, reason)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := tx.Exec(ctx, insertSQL, escrowID, prev, next, refund, reason); err != nil {
		return fmt.Errorf("escrow: insert adjustment: %w", err)
	}
	return nil
}

const escrowSelf = `
	id, project_id, amount, original_amount, adjusted_amount,
	refunded_amount, status::text, created_at, updated_at`

func scanEscrow(row pgx.Row) (Escrow, error) {
	var e Escrow
	err := row.Scan(
		&e.ID, &e.ProjectID, &e.Amount, &e.OriginalAmount, &e.AdjustedAmount,
		&e.RefundedAmount, &e.Status, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return Escrow{}, err
	}
	return e, nil
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
