package dispute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"escrowflow/escrow"
	"escrowflow/project"
	"escrowflow/transaction"
)

// Store is the PostgreSQL-backed ResolutionStore. It composes the escrow,
// project and transaction repositories so every write lands in the engine's
// transaction.
type Store struct {
	escrows  *escrow.Repository
	projects *project.Repository
	ledger   *transaction.Repository
}

func NewStore(escrows *escrow.Repository, projects *project.Repository, ledger *transaction.Repository) *Store {
	return &Store{escrows: escrows, projects: projects, ledger: ledger}
}

func (s *Store) LockDispute(ctx context.Context, tx pgx.Tx, disputeID string) (Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes d WHERE d.id = $1 FOR UPDATE`
	d, err := scanDispute(tx.QueryRow(ctx, query, disputeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: lock: %w", err)
	}
	return d, nil
}

func (s *Store) LockEscrow(ctx context.Context, tx pgx.Tx, projectID string) (escrow.Escrow, error) {
	return s.escrows.LockByProjectTx(ctx, tx, projectID)
}

func (s *Store) Parties(ctx context.Context, tx pgx.Tx, projectID string) (Parties, error) {
	const query = `
		SELECT p.client_id, p.freelancer_id, c.email, f.email
		FROM projects p
		JOIN users c ON c.id = p.client_id
		JOIN users f ON f.id = p.freelancer_id
		WHERE p.id = $1`

	var parties Parties
	err := tx.QueryRow(ctx, query, projectID).Scan(
		&parties.ClientID, &parties.FreelancerID, &parties.ClientEmail, &parties.FreelancerEmail)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Parties{}, ErrNotFound
		}
		return Parties{}, fmt.Errorf("dispute: load parties: %w", err)
	}
	return parties, nil
}

// SaveResolution writes the resolution record exactly once. The status guard
// re-runs even under the row lock so a second committed resolution is
// impossible regardless of caller discipline.
func (s *Store) SaveResolution(ctx context.Context, tx pgx.Tx, disputeID string, res Resolution, action AdminAction) error {
	const updateSQL = `
		UPDATE disputes
		SET status = 'resolved',
		    resolution = $2,
		    admin_actions = admin_actions || $3::jsonb,
		    resolved_at = $4,
		    appeal_by = $4 + interval '7 days',
		    updated_at = now()
		WHERE id = $1
		  AND status <> 'resolved'`

	tag, err := tx.Exec(ctx, updateSQL, disputeID, res, []AdminAction{action}, res.ResolvedAt)
	if err != nil {
		return fmt.Errorf("dispute: save resolution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyResolved
	}
	return nil
}

func (s *Store) SyncEscrow(ctx context.Context, tx pgx.Tx, escrowID string, amount, refunded float64, status escrow.Status, reason string) error {
	_, err := s.escrows.ApplyResolutionTx(ctx, tx, escrowID, amount, refunded, status, reason)
	return err
}

func (s *Store) LogMovement(ctx context.Context, tx pgx.Tx, escrowID string, movement transaction.Type, amount float64) error {
	_, err := s.ledger.InsertTx(ctx, tx, transaction.InsertParams{
		EscrowID: escrowID,
		Type:     movement,
		Amount:   amount,
		Status:   transaction.StatusCompleted,
	})
	return err
}

// ReleaseMilestone settles a disputed milestone as delivered. A zero-row
// update is tolerated: the milestone already reached a terminal state before
// the dispute was wired to it, and the escrow sync remains authoritative.
func (s *Store) ReleaseMilestone(ctx context.Context, tx pgx.Tx, milestoneID string, at time.Time) error {
	const query = `
		UPDATE milestones
		SET status = 'released', released_at = $2, auto_release_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'disputed'`

	if _, err := tx.Exec(ctx, query, milestoneID, at); err != nil {
		return fmt.Errorf("dispute: release milestone: %w", err)
	}
	return nil
}

// CancelMilestone voids a disputed milestone after the client prevails.
func (s *Store) CancelMilestone(ctx context.Context, tx pgx.Tx, milestoneID string) error {
	const query = `
		UPDATE milestones
		SET status = 'cancelled', auto_release_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'disputed'`

	if _, err := tx.Exec(ctx, query, milestoneID); err != nil {
		return fmt.Errorf("dispute: cancel milestone: %w", err)
	}
	return nil
}

func (s *Store) TransitionProject(ctx context.Context, tx pgx.Tx, projectID string, status project.Status) error {
	return s.projects.TransitionProjectTx(ctx, tx, projectID, status)
}

func (s *Store) CloseAgreement(ctx context.Context, tx pgx.Tx, projectID string, status project.AgreementStatus) error {
	return s.projects.TransitionActiveAgreementTx(ctx, tx, projectID, status)
}
