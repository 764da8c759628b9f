package dispute

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"escrowflow/auth"
	"escrowflow/milestone"
	"escrowflow/notify"
	"escrowflow/payment"
	"escrowflow/project"
)

// projectMover suspends and resumes the disputed project record.
type projectMover interface {
	TransitionProjectTx(ctx context.Context, tx pgx.Tx, projectID string, status project.Status) error
}

// milestoneMover halts a milestone's automatic settlement.
type milestoneMover interface {
	MarkDisputedTx(ctx context.Context, tx pgx.Tx, actorID, id, disputeID string) (milestone.Milestone, error)
}

// Service fronts the dispute lifecycle up to resolution; binding decisions go
// through the Engine.
type Service struct {
	pool       TxBeginner
	repo       *Repository
	projects   projectMover
	milestones milestoneMover
	payments   payment.Provider
	sender     notify.Sender
	log        zerolog.Logger
}

func NewService(pool TxBeginner, repo *Repository, projects projectMover, milestones milestoneMover, payments payment.Provider, sender notify.Sender, log zerolog.Logger) *Service {
	return &Service{
		pool:       pool,
		repo:       repo,
		projects:   projects,
		milestones: milestones,
		payments:   payments,
		sender:     sender,
		log:        log,
	}
}

// File opens a claim in pending_payment state and quotes the arbitration fee.
// Filing suspends settlement in the same commit: the project moves to
// disputed, and when the claim names a milestone its auto-release timer is
// cleared, so arbitration can never race an automatic payout.
func (s *Service) File(ctx context.Context, params FileParams) (Dispute, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: begin file: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.repo.FileTx(ctx, tx, params)
	if err != nil {
		return Dispute{}, err
	}
	if err := s.projects.TransitionProjectTx(ctx, tx, d.ProjectID, project.StatusDisputed); err != nil {
		return Dispute{}, err
	}
	if d.MilestoneID != nil {
		if _, err := s.milestones.MarkDisputedTx(ctx, tx, params.FiledBy, *d.MilestoneID, d.ID); err != nil {
			return Dispute{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: commit file: %w", err)
	}

	if err := s.sender.Notify(ctx, "", notify.KindDisputeFiled, map[string]any{
		"dispute_number":  d.Number,
		"project_id":      d.ProjectID,
		"arbitration_fee": d.ArbitrationFee,
	}); err != nil {
		s.log.Warn().Err(err).Str("dispute", d.Number).Msg("filing notification failed")
	}
	return d, nil
}

// PayFee captures the arbitration fee through the payment provider and
// activates the dispute. The capture happens first; a dispute that cannot be
// activated afterwards leaves a completed capture to reconcile, never the
// reverse.
func (s *Service) PayFee(ctx context.Context, filerID, disputeID, paymentRef string) (Dispute, error) {
	d, err := s.repo.GetByID(ctx, disputeID)
	if err != nil {
		return Dispute{}, err
	}
	if d.FiledBy != filerID {
		return Dispute{}, ErrForbidden
	}
	if d.Status != StatusPendingPayment {
		return Dispute{}, ErrBadStatus
	}

	captureRef, err := s.payments.Capture(ctx, paymentRef, d.ArbitrationFee)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: capture arbitration fee: %w", err)
	}

	return s.repo.PayFee(ctx, filerID, disputeID, captureRef)
}

func (s *Service) AddEvidence(ctx context.Context, actorID, disputeID string, ev Evidence) (Dispute, error) {
	return s.repo.AddEvidence(ctx, actorID, disputeID, ev)
}

func (s *Service) AddMessage(ctx context.Context, actorID, disputeID, body string) (Dispute, error) {
	return s.repo.AddMessage(ctx, actorID, disputeID, body)
}

func (s *Service) Respond(ctx context.Context, respondentID, disputeID, body string) (Dispute, error) {
	return s.repo.Respond(ctx, respondentID, disputeID, body)
}

func (s *Service) Withdraw(ctx context.Context, filerID, disputeID string) (Dispute, error) {
	return s.repo.Withdraw(ctx, filerID, disputeID)
}

func (s *Service) StartReview(ctx context.Context, adminID string, role auth.Role, disputeID string) (Dispute, error) {
	if role != auth.RoleAdmin {
		return Dispute{}, ErrForbidden
	}
	return s.repo.StartReview(ctx, adminID, disputeID)
}

func (s *Service) RequestResponse(ctx context.Context, adminID string, role auth.Role, disputeID string) (Dispute, error) {
	if role != auth.RoleAdmin {
		return Dispute{}, ErrForbidden
	}
	return s.repo.RequestResponse(ctx, adminID, disputeID)
}

func (s *Service) Escalate(ctx context.Context, adminID string, role auth.Role, disputeID string) (Dispute, error) {
	if role != auth.RoleAdmin {
		return Dispute{}, ErrForbidden
	}
	return s.repo.Escalate(ctx, adminID, disputeID)
}

func (s *Service) Get(ctx context.Context, disputeID string) (Dispute, error) {
	return s.repo.GetByID(ctx, disputeID)
}

func (s *Service) ListByProject(ctx context.Context, projectID string) ([]Dispute, error) {
	return s.repo.ListByProject(ctx, projectID)
}
