package dispute

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound          = errors.New("dispute: not found")
	ErrForbidden         = errors.New("dispute: forbidden")
	ErrBadStatus         = errors.New("dispute: invalid status transition")
	ErrAlreadyResolved   = errors.New("dispute: already resolved")
	ErrOpenDisputeExists = errors.New("dispute: project already has an open dispute")
	ErrInvalidInput      = errors.New("dispute: invalid input")
)

const disputeColumns = `
	d.id, d.dispute_number, d.project_id, d.milestone_id, d.filed_by,
	d.category::text, d.reason, d.amount, d.arbitration_fee, d.fee_paid,
	d.status::text, d.evidence, d.messages, d.admin_actions, d.resolution,
	d.respond_by, d.appeal_by, d.created_at, d.updated_at, d.resolved_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FileParams holds the fields supplied when a party files a claim.
type FileParams struct {
	ProjectID   string
	MilestoneID *string
	FiledBy     string
	Category    Category
	Reason      string
	Amount      float64
}

// File creates a dispute in pending_payment. The arbitration fee is fixed here
// from the tier table and never recalculated. A partial unique index enforces
// at most one open dispute per project.
func (r *Repository) File(ctx context.Context, params FileParams) (Dispute, error) {
	return r.fileOn(ctx, r.pool, params)
}

// FileTx creates the dispute inside the caller's transaction, so the filing
// and the settlement suspension it triggers commit together.
func (r *Repository) FileTx(ctx context.Context, tx pgx.Tx, params FileParams) (Dispute, error) {
	return r.fileOn(ctx, tx, params)
}

// rowQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *Repository) fileOn(ctx context.Context, q rowQuerier, params FileParams) (Dispute, error) {
	if params.ProjectID == "" || params.FiledBy == "" {
		return Dispute{}, fmt.Errorf("dispute: project and filer required: %w", ErrInvalidInput)
	}
	if params.Reason == "" {
		return Dispute{}, fmt.Errorf("dispute: reason required: %w", ErrInvalidInput)
	}
	if params.Amount <= 0 {
		return Dispute{}, fmt.Errorf("dispute: amount must be positive: %w", ErrInvalidInput)
	}

	number := newDisputeNumber()
	fee := ArbitrationFee(params.Amount)

	// The filer must be a party to the project; the SELECT-driven insert
	// makes standing and existence one atomic check.
	query := `
		INSERT INTO disputes (dispute_number, project_id, milestone_id, filed_by, category, reason, amount, arbitration_fee, status)
		SELECT $1, p.id, $3, $4, $5, $6, $7, $8, 'pending_payment'
		FROM projects p
		WHERE p.id = $2 AND (p.client_id = $4 OR p.freelancer_id = $4)
		RETURNING ` + disputeColumns

	query = strings.ReplaceAll(query, "d.", "")

	d, err := scanDispute(q.QueryRow(ctx, query,
		number, params.ProjectID, params.MilestoneID, params.FiledBy,
		params.Category, params.Reason, params.Amount, fee))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Dispute{}, ErrOpenDisputeExists
		}
		if errors.Is(err, pgx.ErrNoRows) {
			// The insert misses both for a missing project and for a filer
			// without standing; tell them apart.
			var exists bool
			if checkErr := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM projects WHERE id = $1)`, params.ProjectID).Scan(&exists); checkErr != nil {
				return Dispute{}, fmt.Errorf("dispute: file: %w", checkErr)
			}
			if !exists {
				return Dispute{}, ErrNotFound
			}
			return Dispute{}, ErrForbidden
		}
		return Dispute{}, fmt.Errorf("dispute: file: %w", err)
	}
	return d, nil
}

// PayFee activates the dispute once the filer settles the arbitration fee.
func (r *Repository) PayFee(ctx context.Context, filerID, id string, providerRef string) (Dispute, error) {
	query := `
		UPDATE disputes d
		SET fee_paid = TRUE,
		    status = 'open',
		    fee_provider_ref = $3,
		    respond_by = now() + interval '7 days',
		    updated_at = now()
		WHERE d.id = $1
		  AND d.filed_by = $2
		  AND d.status = 'pending_payment'
		RETURNING ` + disputeColumns

	d, err := scanDispute(r.pool.QueryRow(ctx, query, id, filerID, providerRef))
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Dispute{}, fmt.Errorf("dispute: pay fee: %w", err)
	}
	return Dispute{}, r.classifyMiss(ctx, id, filerID, standingFiler)
}

// AddEvidence appends an artifact to the claim.
func (r *Repository) AddEvidence(ctx context.Context, actorID, id string, ev Evidence) (Dispute, error) {
	ev.SubmittedBy = actorID
	ev.SubmittedAt = time.Now().UTC()
	if ev.URL == "" {
		return Dispute{}, fmt.Errorf("dispute: evidence url required: %w", ErrInvalidInput)
	}

	query := `
		UPDATE disputes d
		SET evidence = d.evidence || $3::jsonb, updated_at = now()
		FROM projects p
		WHERE d.id = $1
		  AND p.id = d.project_id
		  AND (p.client_id = $2 OR p.freelancer_id = $2)
		  AND d.status IN ('open','under_review','awaiting_response')
		RETURNING ` + disputeColumns

	d, err := scanDispute(r.pool.QueryRow(ctx, query, id, actorID, []Evidence{ev}))
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Dispute{}, fmt.Errorf("dispute: add evidence: %w", err)
	}
	return Dispute{}, r.classifyMiss(ctx, id, actorID, standingParty)
}

// AddMessage appends to the dispute chat log.
func (r *Repository) AddMessage(ctx context.Context, actorID, id, body string) (Dispute, error) {
	if body == "" {
		return Dispute{}, fmt.Errorf("dispute: message body required: %w", ErrInvalidInput)
	}
	msg := Message{AuthorID: actorID, Body: body, SentAt: time.Now().UTC()}

	query := `
		UPDATE disputes d
		SET messages = d.messages || $3::jsonb, updated_at = now()
		FROM projects p
		WHERE d.id = $1
		  AND p.id = d.project_id
		  AND (p.client_id = $2 OR p.freelancer_id = $2)
		  AND d.status NOT IN ('resolved','withdrawn')
		RETURNING ` + disputeColumns

	d, err := scanDispute(r.pool.QueryRow(ctx, query, id, actorID, []Message{msg}))
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Dispute{}, fmt.Errorf("dispute: add message: %w", err)
	}
	return Dispute{}, r.classifyMiss(ctx, id, actorID, standingParty)
}

// StartReview moves an open dispute under arbitration and logs the action.
func (r *Repository) StartReview(ctx context.Context, adminID, id string) (Dispute, error) {
	return r.adminTransition(ctx, adminID, id, "start_review",
		[]Status{StatusOpen}, StatusUnderReview, "")
}

// RequestResponse asks the non-filing party to answer within the window.
func (r *Repository) RequestResponse(ctx context.Context, adminID, id string) (Dispute, error) {
	return r.adminTransition(ctx, adminID, id, "request_response",
		[]Status{StatusUnderReview}, StatusAwaitingResponse,
		", respond_by = now() + interval '72 hours'")
}

// Escalate flags a dispute for senior arbitration.
func (r *Repository) Escalate(ctx context.Context, adminID, id string) (Dispute, error) {
	return r.adminTransition(ctx, adminID, id, "escalate",
		[]Status{StatusUnderReview, StatusAwaitingResponse}, StatusEscalated, "")
}

func (r *Repository) adminTransition(ctx context.Context, adminID, id, action string, from []Status, to Status, extraSet string) (Dispute, error) {
	entry := AdminAction{AdminID: adminID, Action: action, At: time.Now().UTC()}

	states := make([]string, len(from))
	for i, s := range from {
		states[i] = "'" + string(s) + "'"
	}

	query := `
		UPDATE disputes d
		SET status = $2,
		    admin_actions = d.admin_actions || $3::jsonb,
		    updated_at = now()` + extraSet + `
		WHERE d.id = $1
		  AND d.status IN (` + strings.Join(states, ",") + `)
		RETURNING ` + disputeColumns

	d, err := scanDispute(r.pool.QueryRow(ctx, query, id, string(to), []AdminAction{entry}))
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Dispute{}, fmt.Errorf("dispute: %s: %w", action, err)
	}
	return Dispute{}, r.classifyMiss(ctx, id, "", standingAny)
}

// Respond records the non-filing party's answer and hands the dispute back to
// review.
func (r *Repository) Respond(ctx context.Context, respondentID, id, body string) (Dispute, error) {
	if body == "" {
		return Dispute{}, fmt.Errorf("dispute: response body required: %w", ErrInvalidInput)
	}
	msg := Message{AuthorID: respondentID, Body: body, SentAt: time.Now().UTC()}

	query := `
		UPDATE disputes d
		SET status = 'under_review',
		    messages = d.messages || $3::jsonb,
		    respond_by = NULL,
		    updated_at = now()
		FROM projects p
		WHERE d.id = $1
		  AND p.id = d.project_id
		  AND (p.client_id = $2 OR p.freelancer_id = $2)
		  AND d.filed_by <> $2
		  AND d.status = 'awaiting_response'
		RETURNING ` + disputeColumns

	d, err := scanDispute(r.pool.QueryRow(ctx, query, id, respondentID, []Message{msg}))
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Dispute{}, fmt.Errorf("dispute: respond: %w", err)
	}
	return Dispute{}, r.classifyMiss(ctx, id, respondentID, standingRespondent)
}

// Withdraw lets the filer abandon the claim at any pre-resolution point.
func (r *Repository) Withdraw(ctx context.Context, filerID, id string) (Dispute, error) {
	query := `
		UPDATE disputes d
		SET status = 'withdrawn', updated_at = now()
		WHERE d.id = $1
		  AND d.filed_by = $2
		  AND d.status NOT IN ('resolved','withdrawn')
		RETURNING ` + disputeColumns

	d, err := scanDispute(r.pool.QueryRow(ctx, query, id, filerID))
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Dispute{}, fmt.Errorf("dispute: withdraw: %w", err)
	}
	return Dispute{}, r.classifyMiss(ctx, id, filerID, standingFiler)
}

func (r *Repository) GetByID(ctx context.Context, id string) (Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes d WHERE d.id = $1`
	d, err := scanDispute(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: get: %w", err)
	}
	return d, nil
}

func (r *Repository) GetByNumber(ctx context.Context, number string) (Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes d WHERE d.dispute_number = $1`
	d, err := scanDispute(r.pool.QueryRow(ctx, query, number))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: get by number: %w", err)
	}
	return d, nil
}

func (r *Repository) ListByProject(ctx context.Context, projectID string) ([]Dispute, error) {
	query := `SELECT ` + disputeColumns + `
		FROM disputes d
		WHERE d.project_id = $1
		ORDER BY d.created_at DESC`

	rows, err := r.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]Dispute, 0, 4)
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

type standing int

const (
	standingAny standing = iota
	standingFiler
	standingParty
	standingRespondent
)

// classifyMiss resolves a zero-row guarded update into the precise error.
func (r *Repository) classifyMiss(ctx context.Context, id, actorID string, s standing) error {
	const check = `
		SELECT d.status::text, d.filed_by, p.client_id, p.freelancer_id
		FROM disputes d
		JOIN projects p ON p.id = d.project_id
		WHERE d.id = $1`

	var (
		status                          Status
		filedBy, clientID, freelancerID string
	)
	if err := r.pool.QueryRow(ctx, check, id).Scan(&status, &filedBy, &clientID, &freelancerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("dispute: classify: %w", err)
	}

	switch s {
	case standingFiler:
		if actorID != filedBy {
			return ErrForbidden
		}
	case standingParty:
		if actorID != clientID && actorID != freelancerID {
			return ErrForbidden
		}
	case standingRespondent:
		if actorID == filedBy || (actorID != clientID && actorID != freelancerID) {
			return ErrForbidden
		}
	}

	if status == StatusResolved {
		return ErrAlreadyResolved
	}
	return ErrBadStatus
}

func newDisputeNumber() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "DSP-" + strings.ToUpper(raw[:8])
}

func scanDispute(row pgx.Row) (Dispute, error) {
	var d Dispute
	err := row.Scan(
		&d.ID, &d.Number, &d.ProjectID, &d.MilestoneID, &d.FiledBy,
		&d.Category, &d.Reason, &d.Amount, &d.ArbitrationFee, &d.FeePaid,
		&d.Status, &d.Evidence, &d.Messages, &d.AdminActions, &d.Resolution,
		&d.RespondBy, &d.AppealBy, &d.CreatedAt, &d.UpdatedAt, &d.ResolvedAt,
	)
	if err != nil {
		return Dispute{}, err
	}
	return d, nil
}
