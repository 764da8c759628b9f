package dispute

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"escrowflow/activity"
	"escrowflow/auth"
	"escrowflow/escrow"
	"escrowflow/notify"
	"escrowflow/project"
	"escrowflow/transaction"
)

var ErrSplitExceedsPool = errors.New("dispute: split exceeds escrowed pool")

// minReasoningLen guards against rubber-stamp resolutions.
const minReasoningLen = 20

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ResolveParams carries a binding arbitration decision.
type ResolveParams struct {
	DisputeID     string
	Decision      Decision
	AwardedAmount *float64
	RefundAmount  *float64
	Reasoning     string
	ResolverID    string
	ResolverRole  auth.Role
}

// Parties identifies the two sides of the disputed project.
type Parties struct {
	ClientID        string
	FreelancerID    string
	ClientEmail     string
	FreelancerEmail string
}

// ResolutionStore is the data access the engine needs inside one transaction.
type ResolutionStore interface {
	LockDispute(ctx context.Context, tx pgx.Tx, disputeID string) (Dispute, error)
	LockEscrow(ctx context.Context, tx pgx.Tx, projectID string) (escrow.Escrow, error)
	Parties(ctx context.Context, tx pgx.Tx, projectID string) (Parties, error)
	SaveResolution(ctx context.Context, tx pgx.Tx, disputeID string, res Resolution, action AdminAction) error
	SyncEscrow(ctx context.Context, tx pgx.Tx, escrowID string, amount, refunded float64, status escrow.Status, reason string) error
	LogMovement(ctx context.Context, tx pgx.Tx, escrowID string, movement transaction.Type, amount float64) error
	ReleaseMilestone(ctx context.Context, tx pgx.Tx, milestoneID string, at time.Time) error
	CancelMilestone(ctx context.Context, tx pgx.Tx, milestoneID string) error
	TransitionProject(ctx context.Context, tx pgx.Tx, projectID string, status project.Status) error
	CloseAgreement(ctx context.Context, tx pgx.Tx, projectID string, status project.AgreementStatus) error
}

// Engine applies binding decisions. Everything between locking the dispute and
// the commit is one atomic unit: escrow math, ledger entries and the status of
// the dispute, project and agreement move together or not at all.
type Engine struct {
	pool   TxBeginner
	store  ResolutionStore
	sender notify.Sender
	audit  activity.Recorder
	log    zerolog.Logger
}

func NewEngine(pool TxBeginner, store ResolutionStore, sender notify.Sender, audit activity.Recorder, log zerolog.Logger) *Engine {
	return &Engine{
		pool:   pool,
		store:  store,
		sender: sender,
		audit:  audit,
		log:    log,
	}
}

// Resolve settles a dispute with a binding decision.
func (e *Engine) Resolve(ctx context.Context, params ResolveParams) (Dispute, error) {
	if params.ResolverRole != auth.RoleAdmin {
		return Dispute{}, ErrForbidden
	}
	if !validDecision(params.Decision) {
		return Dispute{}, fmt.Errorf("dispute: unknown decision %q: %w", params.Decision, ErrInvalidInput)
	}
	if len(strings.TrimSpace(params.Reasoning)) < minReasoningLen {
		return Dispute{}, fmt.Errorf("dispute: reasoning must be at least %d characters: %w", minReasoningLen, ErrInvalidInput)
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: begin resolve: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := e.store.LockDispute(ctx, tx, params.DisputeID)
	if err != nil {
		return Dispute{}, err
	}
	if d.Status == StatusResolved {
		return Dispute{}, ErrAlreadyResolved
	}

	held, err := e.store.LockEscrow(ctx, tx, d.ProjectID)
	if err != nil {
		return Dispute{}, err
	}
	pool := held.OriginalAmount
	if pool == 0 {
		pool = held.Amount
	}

	award, refund, err := computeSplit(params.Decision, pool, params.AwardedAmount, params.RefundAmount)
	if err != nil {
		return Dispute{}, err
	}

	parties, err := e.store.Parties(ctx, tx, d.ProjectID)
	if err != nil {
		return Dispute{}, err
	}

	now := time.Now().UTC()
	res := Resolution{
		Decision:      params.Decision,
		AwardedTo:     awardedParty(params.Decision, parties),
		AwardedAmount: award,
		RefundAmount:  refund,
		Penalized:     params.Decision == DecisionClientFavor,
		Reasoning:     params.Reasoning,
		ResolvedBy:    params.ResolverID,
		ResolvedAt:    now,
	}
	action := AdminAction{
		AdminID: params.ResolverID,
		Action:  "resolve",
		Note:    string(params.Decision),
		At:      now,
	}

	if err := e.store.SaveResolution(ctx, tx, d.ID, res, action); err != nil {
		return Dispute{}, err
	}

	if params.Decision != DecisionDismissed {
		reason := fmt.Sprintf("dispute %s resolved: %s", d.Number, params.Decision)

		var status escrow.Status
		switch params.Decision {
		case DecisionFreelancerFavor:
			status = escrow.StatusReleased
		case DecisionClientFavor:
			status = escrow.StatusRefunded
		case DecisionSplit:
			status = escrow.StatusPartialRefund
		}
		// A full award pays the whole pool out to the freelancer: nothing
		// stays held and nothing is refunded. Only a split leaves the awarded
		// share recorded on the escrow.
		heldAmount := award
		if params.Decision == DecisionFreelancerFavor {
			heldAmount = 0
		}
		if err := e.store.SyncEscrow(ctx, tx, held.ID, heldAmount, refund, status, reason); err != nil {
			return Dispute{}, err
		}

		if award > 0 {
			if err := e.store.LogMovement(ctx, tx, held.ID, transaction.TypeDisputeAward, award); err != nil {
				return Dispute{}, err
			}
		}
		if refund > 0 {
			if err := e.store.LogMovement(ctx, tx, held.ID, transaction.TypeDisputeRefund, refund); err != nil {
				return Dispute{}, err
			}
		}

		// A dispute tied to a milestone settles that milestone in the same
		// commit: the work is cancelled when the client prevails, otherwise
		// it counts as delivered.
		if d.MilestoneID != nil {
			if params.Decision == DecisionClientFavor {
				err = e.store.CancelMilestone(ctx, tx, *d.MilestoneID)
			} else {
				err = e.store.ReleaseMilestone(ctx, tx, *d.MilestoneID, now)
			}
			if err != nil {
				return Dispute{}, err
			}
		}

		projectStatus := project.StatusCompleted
		agreementStatus := project.AgreementCompleted
		if params.Decision == DecisionClientFavor {
			projectStatus = project.StatusCancelled
			agreementStatus = project.AgreementCancelled
		}
		if err := e.store.TransitionProject(ctx, tx, d.ProjectID, projectStatus); err != nil {
			return Dispute{}, err
		}
		if err := e.store.CloseAgreement(ctx, tx, d.ProjectID, agreementStatus); err != nil {
			return Dispute{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: commit resolve: %w", err)
	}

	d.Status = StatusResolved
	d.Resolution = &res
	d.ResolvedAt = &now

	e.afterResolve(ctx, d, parties)
	return d, nil
}

// afterResolve runs the best-effort side effects. By the time it executes the
// resolution is committed; nothing here may influence its outcome.
func (e *Engine) afterResolve(ctx context.Context, d Dispute, parties Parties) {
	data := map[string]any{
		"dispute_number": d.Number,
		"decision":       string(d.Resolution.Decision),
		"awarded_amount": d.Resolution.AwardedAmount,
		"refund_amount":  d.Resolution.RefundAmount,
	}
	for _, email := range []string{parties.ClientEmail, parties.FreelancerEmail} {
		if email == "" {
			continue
		}
		if err := e.sender.Notify(ctx, email, notify.KindDisputeResolved, data); err != nil {
			e.log.Warn().Err(err).Str("dispute", d.Number).Str("recipient", email).Msg("resolution notification failed")
		}
	}
	desc := fmt.Sprintf("resolved dispute %s (%s)", d.Number, d.Resolution.Decision)
	if err := e.audit.Record(ctx, d.Resolution.ResolvedBy, desc); err != nil {
		e.log.Warn().Err(err).Str("dispute", d.Number).Msg("activity record failed")
	}
}

// computeSplit maps a decision onto (award, refund) against the escrowed pool.
func computeSplit(decision Decision, pool float64, awarded, refund *float64) (float64, float64, error) {
	switch decision {
	case DecisionFreelancerFavor:
		return pool, 0, nil
	case DecisionClientFavor:
		return 0, pool, nil
	case DecisionDismissed:
		return 0, 0, nil
	}

	// Split: default to half the pool, floored on the cent; the remainder
	// defaults to the refund side so nothing is silently dropped.
	award := floorCents(pool / 2)
	if awarded != nil {
		award = *awarded
	}
	ref := round2(pool - award)
	if refund != nil {
		ref = *refund
	}
	if award < 0 || ref < 0 {
		return 0, 0, fmt.Errorf("dispute: split amounts must not be negative: %w", ErrInvalidInput)
	}
	if award+ref > pool+0.005 {
		return 0, 0, ErrSplitExceedsPool
	}
	return round2(award), round2(ref), nil
}

func awardedParty(decision Decision, parties Parties) string {
	switch decision {
	case DecisionFreelancerFavor:
		return parties.FreelancerID
	case DecisionClientFavor:
		return parties.ClientID
	default:
		return ""
	}
}

func floorCents(x float64) float64 {
	return math.Floor(x*100) / 100
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
