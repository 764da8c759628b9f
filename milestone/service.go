package milestone

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/escrow"
	"escrowflow/transaction"
)

// Service drives the milestone lifecycle. Multi-record operations (submit,
// release) run inside one transaction; single-guard transitions go straight
// through the repository.
type Service struct {
	pool    *pgxpool.Pool
	repo    *Repository
	escrows *escrow.Repository
	ledger  *transaction.Repository

	defaultAutoReleaseHours int
	defaultMaxRevisions     int
}

// Defaults configure fallbacks applied when a creation request leaves
// milestone knobs unset.
type Defaults struct {
	AutoReleaseHours int
	MaxRevisions     int
}

func NewService(pool *pgxpool.Pool, repo *Repository, escrows *escrow.Repository, ledger *transaction.Repository, d Defaults) *Service {
	if d.AutoReleaseHours <= 0 {
		d.AutoReleaseHours = 72
	}
	if d.MaxRevisions <= 0 {
		d.MaxRevisions = 3
	}
	return &Service{
		pool:                    pool,
		repo:                    repo,
		escrows:                 escrows,
		ledger:                  ledger,
		defaultAutoReleaseHours: d.AutoReleaseHours,
		defaultMaxRevisions:     d.MaxRevisions,
	}
}

// Create adds a staged deliverable under a signed agreement.
func (s *Service) Create(ctx context.Context, params CreateParams) (Milestone, error) {
	if params.AgreementID == "" {
		return Milestone{}, fmt.Errorf("milestone: agreement id required: %w", ErrInvalidInput)
	}
	if params.Number <= 0 {
		return Milestone{}, fmt.Errorf("milestone: milestone number must be positive: %w", ErrInvalidInput)
	}
	if params.Amount <= 0 {
		return Milestone{}, fmt.Errorf("milestone: amount must be positive: %w", ErrInvalidInput)
	}
	if params.PenaltyPercent < 0 || params.BonusPercent < 0 || params.MaxPenaltyCap < 0 {
		return Milestone{}, fmt.Errorf("milestone: percentages must not be negative: %w", ErrInvalidInput)
	}
	if params.SLADeadline.Before(params.DueDate) {
		return Milestone{}, fmt.Errorf("milestone: sla deadline precedes due date: %w", ErrInvalidInput)
	}
	if params.AutoReleaseAfterHours <= 0 {
		params.AutoReleaseAfterHours = s.defaultAutoReleaseHours
	}
	if params.MaxRevisions <= 0 {
		params.MaxRevisions = s.defaultMaxRevisions
	}
	return s.repo.Create(ctx, params)
}

func (s *Service) Get(ctx context.Context, id string) (Milestone, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByAgreement(ctx context.Context, agreementID string) ([]Milestone, error) {
	return s.repo.ListByAgreement(ctx, agreementID)
}

func (s *Service) Start(ctx context.Context, freelancerID, id string) (Milestone, error) {
	return s.repo.Start(ctx, freelancerID, id)
}

// Submit records the deliverables, freezes the scoring output and schedules the
// auto-release window.
func (s *Service) Submit(ctx context.Context, freelancerID, id string, deliverables []Deliverable) (Milestone, error) {
	if len(deliverables) == 0 {
		return Milestone{}, fmt.Errorf("milestone: at least one deliverable required: %w", ErrInvalidInput)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Milestone{}, fmt.Errorf("milestone: begin submit: %w", err)
	}
	defer tx.Rollback(ctx)

	m, parties, err := s.repo.lockForUpdate(ctx, tx, id)
	if err != nil {
		return Milestone{}, err
	}
	if freelancerID != parties.FreelancerID {
		return Milestone{}, ErrForbidden
	}
	switch m.Status {
	case StatusPending, StatusInProgress, StatusRevision:
	default:
		return Milestone{}, ErrInvalidState
	}

	now := time.Now().UTC()
	for i := range deliverables {
		deliverables[i].SubmittedAt = now
	}

	sc := ComputeScore(ScoreInput{
		SubmittedAt:    now,
		DueDate:        m.DueDate,
		SLADeadline:    m.SLADeadline,
		Amount:         m.Amount,
		PenaltyPercent: m.PenaltyPercent,
		BonusPercent:   m.BonusPercent,
		MaxPenaltyCap:  m.MaxPenaltyCap,
	})
	autoReleaseAt := now.Add(time.Duration(m.AutoReleaseAfterHours) * time.Hour)

	updated, err := s.repo.markSubmitted(ctx, tx, id, deliverables, sc, now, autoReleaseAt)
	if err != nil {
		return Milestone{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Milestone{}, fmt.Errorf("milestone: commit submit: %w", err)
	}
	return updated, nil
}

// Confirm is the client's approval of a submitted milestone. Approval
// supersedes the auto-release timer.
func (s *Service) Confirm(ctx context.Context, clientID, id string) (Milestone, error) {
	return s.repo.Confirm(ctx, clientID, id)
}

// RequestRevision sends a submitted milestone back for rework.
func (s *Service) RequestRevision(ctx context.Context, clientID, id, note string) (Milestone, error) {
	if note == "" {
		return Milestone{}, fmt.Errorf("milestone: revision note required: %w", ErrInvalidInput)
	}
	return s.repo.RequestRevision(ctx, clientID, id, RevisionNote{
		Note:        note,
		RequestedBy: clientID,
		RequestedAt: time.Now().UTC(),
	})
}

// MarkDisputed suspends automatic settlement while arbitration runs.
func (s *Service) MarkDisputed(ctx context.Context, actorID, id, disputeID string) (Milestone, error) {
	return s.repo.MarkDisputed(ctx, actorID, id, disputeID)
}

func (s *Service) Cancel(ctx context.Context, actorID, id string) (Milestone, error) {
	return s.repo.Cancel(ctx, actorID, id)
}

// Release pays out the frozen final amount: the milestone is stamped released,
// the escrow debited and a release transaction logged, all in one commit.
// An empty actor releases on behalf of the system (the auto-release sweep).
func (s *Service) Release(ctx context.Context, actorID, id string) (Milestone, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Milestone{}, fmt.Errorf("milestone: begin release: %w", err)
	}
	defer tx.Rollback(ctx)

	m, parties, err := s.repo.lockForUpdate(ctx, tx, id)
	if err != nil {
		return Milestone{}, err
	}
	if actorID != "" && actorID != parties.ClientID {
		return Milestone{}, ErrForbidden
	}
	if m.Status != StatusConfirmed && m.Status != StatusSubmitted {
		return Milestone{}, ErrInvalidState
	}

	payout := m.FinalAmount
	if payout <= 0 {
		return Milestone{}, fmt.Errorf("milestone: no frozen final amount: %w", ErrInvalidState)
	}

	now := time.Now().UTC()
	updated, err := s.repo.markReleased(ctx, tx, id, now)
	if err != nil {
		return Milestone{}, err
	}

	e, err := s.escrows.LockByProjectTx(ctx, tx, parties.ProjectID)
	if err != nil {
		return Milestone{}, err
	}
	reason := fmt.Sprintf("milestone %d released", m.Number)
	if _, err := s.escrows.ReleaseTx(ctx, tx, e.ID, payout, reason); err != nil {
		return Milestone{}, err
	}
	if _, err := s.ledger.InsertTx(ctx, tx, transaction.InsertParams{
		EscrowID: e.ID,
		Type:     transaction.TypeRelease,
		Amount:   payout,
		Status:   transaction.StatusCompleted,
	}); err != nil {
		return Milestone{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Milestone{}, fmt.Errorf("milestone: commit release: %w", err)
	}
	return updated, nil
}

// ListAutoReleasable exposes the sweep query: submitted milestones whose
// not-before instant has passed.
func (s *Service) ListAutoReleasable(ctx context.Context, now time.Time, limit int) ([]string, error) {
	return s.repo.ListAutoReleasable(ctx, now, limit)
}

// AutoRelease is the sweep entry point. Losing the race to a manual confirm or
// dispute surfaces as ErrInvalidState, which callers treat as a skip.
func (s *Service) AutoRelease(ctx context.Context, id string) (Milestone, error) {
	return s.Release(ctx, "", id)
}
