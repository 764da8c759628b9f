package transaction

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrInvalidAmount = errors.New("transaction: amount must be positive")

// Repository appends to and reads the transactions table. There is no update
// path: the log is write-once by construction.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertParams describes one fund movement to record.
type InsertParams struct {
	EscrowID    string
	Type        Type
	Amount      float64
	Status      Status
	ProviderRef *string
}

const insertSQL = `
	INSERT INTO transactions (escrow_id, tx_type, amount, status, provider_ref)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING id, escrow_id, tx_type::text, amount, status::text, provider_ref, created_at`

// Insert records a movement outside any surrounding transaction.
func (r *Repository) Insert(ctx context.Context, params InsertParams) (Record, error) {
	if params.Amount <= 0 {
		return Record{}, ErrInvalidAmount
	}
	rec, err := scanRecord(r.pool.QueryRow(ctx, insertSQL,
		params.EscrowID, params.Type, params.Amount, params.Status, params.ProviderRef))
	if err != nil {
		return Record{}, fmt.Errorf("transaction: insert: %w", err)
	}
	return rec, nil
}

// InsertTx records a movement inside the caller's transaction so the log entry
// commits or rolls back together with the escrow mutation it describes.
func (r *Repository) InsertTx(ctx context.Context, tx pgx.Tx, params InsertParams) (Record, error) {
	if params.Amount <= 0 {
		return Record{}, ErrInvalidAmount
	}
	rec, err := scanRecord(tx.QueryRow(ctx, insertSQL,
		params.EscrowID, params.Type, params.Amount, params.Status, params.ProviderRef))
	if err != nil {
		return Record{}, fmt.Errorf("transaction: insert: %w", err)
	}
	return rec, nil
}

// ListByEscrow returns the movements for one escrow, oldest first.
func (r *Repository) ListByEscrow(ctx context.Context, escrowID string) ([]Record, error) {
	const query = `
		SELECT id, escrow_id, tx_type::text, amount, status::text, provider_ref, created_at
		FROM transactions
		WHERE escrow_id = $1
		ORDER BY id`

	rows, err := r.pool.Query(ctx, query, escrowID)
	if err != nil {
		return nil, fmt.Errorf("transaction: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 8)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("transaction: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transaction: iterate: %w", err)
	}
	return out, nil
}

// ReleasedTotal sums the release and dispute_award movements for an escrow.
// Reconciliation checks this against the escrow's original amount.
func (r *Repository) ReleasedTotal(ctx context.Context, escrowID string) (float64, error) {
	const query = `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE escrow_id = $1 AND tx_type IN ('release','dispute_award')`

	var total float64
	if err := r.pool.QueryRow(ctx, query, escrowID).Scan(&total); err != nil {
		return 0, fmt.Errorf("transaction: released total: %w", err)
	}
	return total, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.EscrowID, &rec.Type, &rec.Amount, &rec.Status, &rec.ProviderRef, &rec.CreatedAt)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}
