package dispute

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"escrowflow/activity"
	"escrowflow/auth"
	"escrowflow/escrow"
	"escrowflow/notify"
	"escrowflow/project"
	"escrowflow/transaction"
)

// TestDisputeLifecycle_Integration connects to a real PostgreSQL via
// DATABASE_URL and walks a dispute from filing through binding resolution,
// verifying the one-live-dispute limit and resolve-once semantics.
func TestDisputeLifecycle_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	var exists bool
	if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = 'disputes')`).Scan(&exists); err != nil || !exists {
		t.Skip("database schema missing; apply migrations first")
	}

	suffix := time.Now().UnixNano()
	var clientID, freelancerID, adminID string
	for _, seed := range []struct {
		dst  *string
		name string
		role string
	}{
		{&clientID, "Cleo Client", "client"},
		{&freelancerID, "Finn Freelancer", "freelancer"},
		{&adminID, "Ada Admin", "admin"},
	} {
		if err := pool.QueryRow(ctx,
			`INSERT INTO users (email, full_name, password_hash, role) VALUES ($1, $2, 'x', $3) RETURNING id`,
			fmt.Sprintf("%s+%d@example.com", seed.role, suffix), seed.name, seed.role).Scan(seed.dst); err != nil {
			t.Fatalf("seed %s: %v", seed.role, err)
		}
	}

	projects := project.NewRepository(pool)
	escrows := escrow.NewRepository(pool)
	ledger := transaction.NewRepository(pool)

	proj, err := projects.CreateProject(ctx, project.CreateProjectParams{
		ClientID:     clientID,
		FreelancerID: freelancerID,
		Title:        "Dispute test",
		Budget:       2000,
	})
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}
	if _, err := projects.CreateAgreement(ctx, project.CreateAgreementParams{ProjectID: proj.ID, Amount: 2000}); err != nil {
		t.Fatalf("seed agreement: %v", err)
	}
	if _, err := pool.Exec(ctx, `UPDATE projects SET status = 'in_progress' WHERE id = $1`, proj.ID); err != nil {
		t.Fatalf("advance project: %v", err)
	}
	held, err := escrows.Fund(ctx, proj.ID, 2000)
	if err != nil {
		t.Fatalf("seed escrow: %v", err)
	}

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM activity_logs WHERE actor_id = $1`, adminID)
		pool.Exec(ctx2, `DELETE FROM disputes WHERE project_id = $1`, proj.ID)
		pool.Exec(ctx2, `DELETE FROM transactions WHERE escrow_id = $1`, held.ID)
		pool.Exec(ctx2, `DELETE FROM escrow_adjustments WHERE escrow_id = $1`, held.ID)
		pool.Exec(ctx2, `DELETE FROM escrows WHERE id = $1`, held.ID)
		pool.Exec(ctx2, `DELETE FROM agreements WHERE project_id = $1`, proj.ID)
		pool.Exec(ctx2, `DELETE FROM projects WHERE id = $1`, proj.ID)
		pool.Exec(ctx2, `DELETE FROM users WHERE id IN ($1, $2, $3)`, clientID, freelancerID, adminID)
	})

	repo := NewRepository(pool)

	d, err := repo.File(ctx, FileParams{
		ProjectID: proj.ID,
		FiledBy:   clientID,
		Category:  CategoryQuality,
		Reason:    "deliverable does not match the brief",
		Amount:    2000,
	})
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	if d.Status != StatusPendingPayment {
		t.Fatalf("expected pending_payment, got %s", d.Status)
	}
	if d.ArbitrationFee != 50 {
		t.Fatalf("expected tier fee 50 for 2000, got %.2f", d.ArbitrationFee)
	}

	// Only one live dispute per project.
	if _, err := repo.File(ctx, FileParams{
		ProjectID: proj.ID,
		FiledBy:   freelancerID,
		Category:  CategoryPayment,
		Reason:    "counter-claim while one is live",
		Amount:    500,
	}); !errors.Is(err, ErrOpenDisputeExists) {
		t.Fatalf("expected ErrOpenDisputeExists, got %v", err)
	}

	// Outsiders cannot file.
	if _, err := repo.File(ctx, FileParams{
		ProjectID: proj.ID,
		FiledBy:   adminID,
		Category:  CategoryOther,
		Reason:    "not a party to this project",
		Amount:    1,
	}); !errors.Is(err, ErrForbidden) && !errors.Is(err, ErrOpenDisputeExists) {
		t.Fatalf("expected standing failure, got %v", err)
	}

	d, err = repo.PayFee(ctx, clientID, d.ID, "cap_test_ref")
	if err != nil {
		t.Fatalf("pay fee: %v", err)
	}
	if d.Status != StatusOpen || !d.FeePaid {
		t.Fatalf("expected open fee-paid dispute, got %+v", d)
	}
	if d.RespondBy == nil {
		t.Fatal("expected respond_by window to be set")
	}

	d, err = repo.AddEvidence(ctx, clientID, d.ID, Evidence{URL: "https://files.example.com/diff.png", Description: "visual diff"})
	if err != nil {
		t.Fatalf("add evidence: %v", err)
	}
	if len(d.Evidence) != 1 || d.Evidence[0].SubmittedBy != clientID {
		t.Fatalf("unexpected evidence: %+v", d.Evidence)
	}

	if _, err := repo.AddMessage(ctx, freelancerID, d.ID, "the brief changed twice mid-sprint"); err != nil {
		t.Fatalf("add message: %v", err)
	}

	d, err = repo.StartReview(ctx, adminID, d.ID)
	if err != nil {
		t.Fatalf("start review: %v", err)
	}
	if d.Status != StatusUnderReview {
		t.Fatalf("expected under_review, got %s", d.Status)
	}

	engine := NewEngine(pool, NewStore(escrows, projects, ledger),
		notify.LogSender{Log: zerolog.Nop()}, activity.NewPGRecorder(pool), zerolog.Nop())

	resolved, err := engine.Resolve(ctx, ResolveParams{
		DisputeID:    d.ID,
		Decision:     DecisionSplit,
		Reasoning:    "both parties bear responsibility for the scope drift",
		ResolverID:   adminID,
		ResolverRole: auth.RoleAdmin,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Resolution.AwardedAmount != 1000 || resolved.Resolution.RefundAmount != 1000 {
		t.Fatalf("expected even split, got %+v", resolved.Resolution)
	}

	// The escrow, ledger and project moved with the resolution.
	held, err = escrows.GetByID(ctx, held.ID)
	if err != nil {
		t.Fatalf("reload escrow: %v", err)
	}
	if held.Status != escrow.StatusPartialRefund || held.RefundedAmount != 1000 {
		t.Fatalf("unexpected escrow after split: %+v", held)
	}

	records, err := ledger.ListByEscrow(ctx, held.ID)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	var award, refund int
	for _, rec := range records {
		switch rec.Type {
		case transaction.TypeDisputeAward:
			award++
		case transaction.TypeDisputeRefund:
			refund++
		}
	}
	if award != 1 || refund != 1 {
		t.Fatalf("expected one award and one refund movement, got %d/%d", award, refund)
	}

	proj, err = projects.GetProject(ctx, proj.ID)
	if err != nil {
		t.Fatalf("reload project: %v", err)
	}
	if proj.Status != project.StatusCompleted {
		t.Fatalf("expected completed project after split, got %s", proj.Status)
	}

	// Resolving again must fail without touching anything.
	if _, err := engine.Resolve(ctx, ResolveParams{
		DisputeID:    d.ID,
		Decision:     DecisionClientFavor,
		Reasoning:    "second resolution attempt must be rejected",
		ResolverID:   adminID,
		ResolverRole: auth.RoleAdmin,
	}); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}

	// A resolved dispute frees the project for a new filing.
	if _, err := repo.File(ctx, FileParams{
		ProjectID: proj.ID,
		FiledBy:   freelancerID,
		Category:  CategoryPayment,
		Reason:    "follow-up claim after settlement",
		Amount:    100,
	}); err != nil {
		t.Fatalf("file after resolution: %v", err)
	}
}
