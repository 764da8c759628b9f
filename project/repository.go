package project

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound      = errors.New("project: not found")
	ErrBadTransition = errors.New("project: invalid status transition")
	ErrInvalidInput  = errors.New("project: invalid input")
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateProjectParams holds the fields set when a client posts a project.
type CreateProjectParams struct {
	ClientID     string
	FreelancerID string
	Title        string
	Budget       float64
}

func (r *Repository) CreateProject(ctx context.Context, params CreateProjectParams) (Project, error) {
	if params.ClientID == "" || params.FreelancerID == "" {
		return Project{}, fmt.Errorf("project: party ids required: %w", ErrInvalidInput)
	}
	if params.Budget <= 0 {
		return Project{}, fmt.Errorf("project: budget must be positive: %w", ErrInvalidInput)
	}

	const insertSQL = `
		INSERT INTO projects (client_id, freelancer_id, title, budget, status)
		VALUES ($1, $2, $3, $4, 'open')
		RETURNING id, client_id, freelancer_id, title, budget, status::text, created_at, updated_at`

	p, err := scanProject(r.pool.QueryRow(ctx, insertSQL,
		params.ClientID, params.FreelancerID, params.Title, params.Budget))
	if err != nil {
		return Project{}, fmt.Errorf("project: create: %w", err)
	}
	return p, nil
}

func (r *Repository) GetProject(ctx context.Context, id string) (Project, error) {
	const query = `
		SELECT id, client_id, freelancer_id, title, budget, status::text, created_at, updated_at
		FROM projects WHERE id = $1`

	p, err := scanProject(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Project{}, ErrNotFound
		}
		return Project{}, fmt.Errorf("project: get: %w", err)
	}
	return p, nil
}

// CreateAgreementParams holds the fields set when the parties sign.
type CreateAgreementParams struct {
	ProjectID string
	Amount    float64
}

// CreateAgreement materialises the signed agreement for a project, copying the
// party linkage from the project row.
func (r *Repository) CreateAgreement(ctx context.Context, params CreateAgreementParams) (Agreement, error) {
	if params.Amount <= 0 {
		return Agreement{}, fmt.Errorf("project: agreement amount must be positive: %w", ErrInvalidInput)
	}

	const insertSQL = `
		INSERT INTO agreements (project_id, client_id, freelancer_id, amount, status, signed_at)
		SELECT p.id, p.client_id, p.freelancer_id, $2, 'active', now()
		FROM projects p
		WHERE p.id = $1
		RETURNING id, project_id, client_id, freelancer_id, amount, status::text, signed_at, created_at, updated_at`

	a, err := scanAgreement(r.pool.QueryRow(ctx, insertSQL, params.ProjectID, params.Amount))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agreement{}, ErrNotFound
		}
		return Agreement{}, fmt.Errorf("project: create agreement: %w", err)
	}
	return a, nil
}

func (r *Repository) ActiveAgreement(ctx context.Context, projectID string) (Agreement, error) {
	const query = `
		SELECT id, project_id, client_id, freelancer_id, amount, status::text, signed_at, created_at, updated_at
		FROM agreements
		WHERE project_id = $1 AND status = 'active'
		LIMIT 1`

	a, err := scanAgreement(r.pool.QueryRow(ctx, query, projectID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agreement{}, ErrNotFound
		}
		return Agreement{}, fmt.Errorf("project: active agreement: %w", err)
	}
	return a, nil
}

// TransitionProjectTx moves a project to next inside the caller's transaction,
// validating against the transition table under a row lock.
func (r *Repository) TransitionProjectTx(ctx context.Context, tx pgx.Tx, projectID string, next Status) error {
	var current Status
	if err := tx.QueryRow(ctx, `SELECT status::text FROM projects WHERE id = $1 FOR UPDATE`, projectID).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("project: fetch status: %w", err)
	}
	if current == next {
		return nil
	}
	if !CanTransition(current, next) {
		return fmt.Errorf("project: %s -> %s: %w", current, next, ErrBadTransition)
	}

	if _, err := tx.Exec(ctx, `UPDATE projects SET status = $2, updated_at = now() WHERE id = $1`, projectID, string(next)); err != nil {
		return fmt.Errorf("project: update status: %w", err)
	}
	return nil
}

// TransitionActiveAgreementTx closes out the active agreement for a project
// inside the caller's transaction. Projects without an active agreement are
// left alone.
func (r *Repository) TransitionActiveAgreementTx(ctx context.Context, tx pgx.Tx, projectID string, next AgreementStatus) error {
	var (
		id      string
		current AgreementStatus
	)
	err := tx.QueryRow(ctx,
		`SELECT id, status::text FROM agreements WHERE project_id = $1 AND status = 'active' LIMIT 1 FOR UPDATE`,
		projectID).Scan(&id, &current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("project: fetch active agreement: %w", err)
	}
	if !CanTransitionAgreement(current, next) {
		return fmt.Errorf("project: agreement %s -> %s: %w", current, next, ErrBadTransition)
	}

	if _, err := tx.Exec(ctx, `UPDATE agreements SET status = $2, updated_at = now() WHERE id = $1`, id, string(next)); err != nil {
		return fmt.Errorf("project: update agreement status: %w", err)
	}
	return nil
}

func scanProject(row pgx.Row) (Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.ClientID, &p.FreelancerID, &p.Title, &p.Budget, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	return p, nil
}

func scanAgreement(row pgx.Row) (Agreement, error) {
	var a Agreement
	err := row.Scan(&a.ID, &a.ProjectID, &a.ClientID, &a.FreelancerID, &a.Amount, &a.Status, &a.SignedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return Agreement{}, err
	}
	return a, nil
}
