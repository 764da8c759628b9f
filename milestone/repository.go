package milestone

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound        = errors.New("milestone: not found")
	ErrForbidden       = errors.New("milestone: forbidden")
	ErrInvalidState    = errors.New("milestone: invalid status transition")
	ErrRevisionLimit   = errors.New("milestone: revision limit exceeded")
	ErrDuplicateNumber = errors.New("milestone: milestone number already exists for agreement")
	ErrInvalidInput    = errors.New("milestone: invalid input")
)

const milestoneColumns = `
	m.id, m.agreement_id, m.milestone_number, m.title, m.amount,
	m.due_date, m.sla_deadline, m.penalty_percent, m.bonus_percent, m.max_penalty_cap,
	m.auto_release_after_hours, m.revision_count, m.max_revisions, m.status::text,
	m.days_late, m.days_early, m.penalty_amount, m.bonus_amount, m.final_amount,
	m.deliverables, m.revision_notes, m.dispute_id, m.submitted_at, m.auto_release_at,
	m.released_at, m.created_at, m.updated_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateParams contains the fields fixed when an agreement is signed.
type CreateParams struct {
	AgreementID           string
	Number                int
	Title                 string
	Amount                float64
	DueDate               time.Time
	SLADeadline           time.Time
	PenaltyPercent        float64
	BonusPercent          float64
	MaxPenaltyCap         float64
	AutoReleaseAfterHours int
	MaxRevisions          int
}

func (r *Repository) Create(ctx context.Context, params CreateParams) (Milestone, error) {
	insertSQL := `
		INSERT INTO milestones (
			agreement_id, milestone_number, title, amount, due_date, sla_deadline,
			penalty_percent, bonus_percent, max_penalty_cap,
			auto_release_after_hours, max_revisions, status
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,'pending')
		RETURNING ` + selfColumns(milestoneColumns)

	row := r.pool.QueryRow(ctx, insertSQL,
		params.AgreementID, params.Number, params.Title, params.Amount,
		params.DueDate, params.SLADeadline,
		params.PenaltyPercent, params.BonusPercent, params.MaxPenaltyCap,
		params.AutoReleaseAfterHours, params.MaxRevisions,
	)
	m, err := scanMilestone(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Milestone{}, ErrDuplicateNumber
		}
		return Milestone{}, fmt.Errorf("milestone: create: %w", err)
	}
	return m, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (Milestone, error) {
	query := `SELECT ` + milestoneColumns + ` FROM milestones m WHERE m.id = $1`
	m, err := scanMilestone(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Milestone{}, ErrNotFound
		}
		return Milestone{}, fmt.Errorf("milestone: get: %w", err)
	}
	return m, nil
}

func (r *Repository) ListByAgreement(ctx context.Context, agreementID string) ([]Milestone, error) {
	query := `SELECT ` + milestoneColumns + `
		FROM milestones m
		WHERE m.agreement_id = $1
		ORDER BY m.milestone_number`

	rows, err := r.pool.Query(ctx, query, agreementID)
	if err != nil {
		return nil, fmt.Errorf("milestone: list: %w", err)
	}
	defer rows.Close()

	out := make([]Milestone, 0, 8)
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, fmt.Errorf("milestone: scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("milestone: iterate: %w", err)
	}
	return out, nil
}

// agreementParties carries the linkage needed for standing checks and escrow
// lookups during milestone operations.
type agreementParties struct {
	ProjectID    string
	ClientID     string
	FreelancerID string
}

// lockForUpdate loads a milestone and its agreement linkage under FOR UPDATE so
// the caller's transaction owns the row until commit.
func (r *Repository) lockForUpdate(ctx context.Context, tx pgx.Tx, id string) (Milestone, agreementParties, error) {
	query := `SELECT ` + milestoneColumns + `,
			a.project_id, a.client_id, a.freelancer_id
		FROM milestones m
		JOIN agreements a ON a.id = m.agreement_id
		WHERE m.id = $1
		FOR UPDATE OF m`

	var parties agreementParties
	m, err := scanMilestoneWith(tx.QueryRow(ctx, query, id), &parties.ProjectID, &parties.ClientID, &parties.FreelancerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Milestone{}, agreementParties{}, ErrNotFound
		}
		return Milestone{}, agreementParties{}, fmt.Errorf("milestone: lock: %w", err)
	}
	return m, parties, nil
}

// markSubmitted freezes the scoring output and schedules the auto-release.
func (r *Repository) markSubmitted(ctx context.Context, tx pgx.Tx, id string, deliverables []Deliverable, sc Score, submittedAt, autoReleaseAt time.Time) (Milestone, error) {
	updateSQL := `
		UPDATE milestones m
		SET status = 'submitted',
		    deliverables = m.deliverables || $2::jsonb,
		    submitted_at = $3,
		    auto_release_at = $4,
		    days_late = $5,
		    days_early = $6,
		    penalty_amount = $7,
		    bonus_amount = $8,
		    final_amount = $9,
		    updated_at = now()
		WHERE m.id = $1
		RETURNING ` + selfColumns(milestoneColumns)

	m, err := scanMilestone(tx.QueryRow(ctx, updateSQL, id, deliverables, submittedAt, autoReleaseAt,
		sc.DaysLate, sc.DaysEarly, sc.PenaltyAmount, sc.BonusAmount, sc.FinalAmount))
	if err != nil {
		return Milestone{}, fmt.Errorf("milestone: mark submitted: %w", err)
	}
	return m, nil
}

// Start moves a pending milestone into work.
func (r *Repository) Start(ctx context.Context, freelancerID, id string) (Milestone, error) {
	query := `
		UPDATE milestones m
		SET status = 'in_progress', updated_at = now()
		FROM agreements a
		WHERE m.id = $1
		  AND a.id = m.agreement_id
		  AND a.freelancer_id = $2
		  AND m.status = 'pending'
		RETURNING ` + milestoneColumns

	m, err := scanMilestone(r.pool.QueryRow(ctx, query, id, freelancerID))
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Milestone{}, fmt.Errorf("milestone: start: %w", err)
	}
	return Milestone{}, r.classifyMiss(ctx, id, freelancerID, actorFreelancer)
}

// Confirm moves a submitted milestone to confirmed and clears the auto-release
// timer. The status guard doubles as the optimistic-concurrency re-check: a
// sweep that already released the milestone makes this a zero-row update.
func (r *Repository) Confirm(ctx context.Context, clientID, id string) (Milestone, error) {
	query := `
		UPDATE milestones m
		SET status = 'confirmed', auto_release_at = NULL, updated_at = now()
		FROM agreements a
		WHERE m.id = $1
		  AND a.id = m.agreement_id
		  AND a.client_id = $2
		  AND m.status = 'submitted'
		RETURNING ` + milestoneColumns

	m, err := scanMilestone(r.pool.QueryRow(ctx, query, id, clientID))
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Milestone{}, fmt.Errorf("milestone: confirm: %w", err)
	}
	return Milestone{}, r.classifyMiss(ctx, id, clientID, actorClient)
}

// RequestRevision appends a revision note and sends the milestone back to the
// provider, if the revision budget allows another round.
func (r *Repository) RequestRevision(ctx context.Context, clientID, id string, note RevisionNote) (Milestone, error) {
	query := `
		UPDATE milestones m
		SET status = 'revision',
		    revision_count = m.revision_count + 1,
		    revision_notes = m.revision_notes || $3::jsonb,
		    auto_release_at = NULL,
		    updated_at = now()
		FROM agreements a
		WHERE m.id = $1
		  AND a.id = m.agreement_id
		  AND a.client_id = $2
		  AND m.status = 'submitted'
		  AND m.revision_count < m.max_revisions
		RETURNING ` + milestoneColumns

	m, err := scanMilestone(r.pool.QueryRow(ctx, query, id, clientID, []RevisionNote{note}))
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Milestone{}, fmt.Errorf("milestone: request revision: %w", err)
	}

	existing, lookupErr := r.GetByID(ctx, id)
	if lookupErr != nil {
		return Milestone{}, lookupErr
	}
	if existing.Status == StatusSubmitted && existing.RevisionCount >= existing.MaxRevisions {
		return Milestone{}, ErrRevisionLimit
	}
	return Milestone{}, r.classifyMiss(ctx, id, clientID, actorClient)
}

// MarkDisputed suspends the milestone pending arbitration. Either party may
// open a dispute; the timer is always cleared.
func (r *Repository) MarkDisputed(ctx context.Context, actorID, id, disputeID string) (Milestone, error) {
	return r.markDisputedOn(ctx, r.pool, actorID, id, disputeID)
}

// MarkDisputedTx runs the same guarded update inside the caller's transaction,
// so filing a dispute and suspending its milestone commit together.
func (r *Repository) MarkDisputedTx(ctx context.Context, tx pgx.Tx, actorID, id, disputeID string) (Milestone, error) {
	return r.markDisputedOn(ctx, tx, actorID, id, disputeID)
}

// rowQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *Repository) markDisputedOn(ctx context.Context, q rowQuerier, actorID, id, disputeID string) (Milestone, error) {
	query := `
		UPDATE milestones m
		SET status = 'disputed', dispute_id = $3, auto_release_at = NULL, updated_at = now()
		FROM agreements a
		WHERE m.id = $1
		  AND a.id = m.agreement_id
		  AND (a.client_id = $2 OR a.freelancer_id = $2)
		  AND m.status IN ('submitted','revision','confirmed')
		RETURNING ` + milestoneColumns

	m, err := scanMilestone(q.QueryRow(ctx, query, id, actorID, disputeID))
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Milestone{}, fmt.Errorf("milestone: mark disputed: %w", err)
	}
	return Milestone{}, r.classifyMiss(ctx, id, actorID, actorEither)
}

// markReleased stamps the release inside the caller's transaction. The status
// guard runs again even though the row is locked, so a racing transition that
// committed first is rejected rather than overwritten.
func (r *Repository) markReleased(ctx context.Context, tx pgx.Tx, id string, releasedAt time.Time) (Milestone, error) {
	updateSQL := `
		UPDATE milestones m
		SET status = 'released', released_at = $2, auto_release_at = NULL, updated_at = now()
		WHERE m.id = $1
		  AND m.status IN ('confirmed','submitted')
		RETURNING ` + selfColumns(milestoneColumns)

	m, err := scanMilestone(tx.QueryRow(ctx, updateSQL, id, releasedAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Milestone{}, ErrInvalidState
		}
		return Milestone{}, fmt.Errorf("milestone: mark released: %w", err)
	}
	return m, nil
}

// Cancel aborts a milestone at any pre-release point.
func (r *Repository) Cancel(ctx context.Context, actorID, id string) (Milestone, error) {
	query := `
		UPDATE milestones m
		SET status = 'cancelled', auto_release_at = NULL, updated_at = now()
		FROM agreements a
		WHERE m.id = $1
		  AND a.id = m.agreement_id
		  AND (a.client_id = $2 OR a.freelancer_id = $2)
		  AND m.status NOT IN ('released','cancelled')
		RETURNING ` + milestoneColumns

	m, err := scanMilestone(r.pool.QueryRow(ctx, query, id, actorID))
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Milestone{}, fmt.Errorf("milestone: cancel: %w", err)
	}
	return Milestone{}, r.classifyMiss(ctx, id, actorID, actorEither)
}

// ListAutoReleasable returns submitted milestones whose silence window has
// elapsed. The sweep releases each through the service, which re-checks status.
func (r *Repository) ListAutoReleasable(ctx context.Context, now time.Time, limit int) ([]string, error) {
	const query = `
		SELECT m.id
		FROM milestones m
		WHERE m.status = 'submitted'
		  AND m.auto_release_at IS NOT NULL
		  AND m.auto_release_at <= $1
		ORDER BY m.auto_release_at
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("milestone: list auto-releasable: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("milestone: scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("milestone: iterate ids: %w", err)
	}
	return ids, nil
}

type actorSide int

const (
	actorClient actorSide = iota
	actorFreelancer
	actorEither
)

// classifyMiss turns a zero-row guarded update into the precise caller error:
// missing row, actor without standing, or an illegal current status. A guard
// that matched on everything observable means a racing writer committed first,
// which is still an invalid-state outcome for this caller.
func (r *Repository) classifyMiss(ctx context.Context, id, actorID string, side actorSide) error {
	const check = `
		SELECT a.client_id, a.freelancer_id
		FROM milestones m
		JOIN agreements a ON a.id = m.agreement_id
		WHERE m.id = $1`

	var clientID, freelancerID string
	if err := r.pool.QueryRow(ctx, check, id).Scan(&clientID, &freelancerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("milestone: classify: %w", err)
	}

	switch side {
	case actorClient:
		if actorID != clientID {
			return ErrForbidden
		}
	case actorFreelancer:
		if actorID != freelancerID {
			return ErrForbidden
		}
	case actorEither:
		if actorID != clientID && actorID != freelancerID {
			return ErrForbidden
		}
	}

	return ErrInvalidState
}

// selfColumns strips the table alias so a RETURNING clause can reuse the
// shared column list.
func selfColumns(cols string) string {
	out := make([]byte, 0, len(cols))
	for i := 0; i < len(cols); i++ {
		if cols[i] == 'm' && i+1 < len(cols) && cols[i+1] == '.' {
			i++
			continue
		}
		out = append(out, cols[i])
	}
	return string(out)
}

func scanMilestone(row pgx.Row) (Milestone, error) {
	return scanMilestoneWith(row)
}

func scanMilestoneWith(row pgx.Row, extra ...any) (Milestone, error) {
	var m Milestone
	dest := []any{
		&m.ID, &m.AgreementID, &m.Number, &m.Title, &m.Amount,
		&m.DueDate, &m.SLADeadline, &m.PenaltyPercent, &m.BonusPercent, &m.MaxPenaltyCap,
		&m.AutoReleaseAfterHours, &m.RevisionCount, &m.MaxRevisions, &m.Status,
		&m.DaysLate, &m.DaysEarly, &m.PenaltyAmount, &m.BonusAmount, &m.FinalAmount,
		&m.Deliverables, &m.RevisionNotes, &m.DisputeID, &m.SubmittedAt, &m.AutoReleaseAt,
		&m.ReleasedAt, &m.CreatedAt, &m.UpdatedAt,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return Milestone{}, err
	}
	return m, nil
}
