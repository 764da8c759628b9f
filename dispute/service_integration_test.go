package dispute

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"escrowflow/activity"
	"escrowflow/auth"
	"escrowflow/escrow"
	"escrowflow/milestone"
	"escrowflow/notify"
	"escrowflow/payment"
	"escrowflow/project"
	"escrowflow/transaction"
)

// TestDisputeSuspendsSettlement_Integration verifies that filing a dispute
// halts automatic settlement in the same commit: the project and the named
// milestone move to disputed, the auto-release timer is cleared, and a binding
// client-favor decision cancels the milestone and empties the escrow back to
// the client.
func TestDisputeSuspendsSettlement_Integration(t *testing.T) {
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
			fmt.Sprintf("suspend-%s+%d@example.com", seed.role, suffix), seed.name, seed.role).Scan(seed.dst); err != nil {
			t.Fatalf("seed %s: %v", seed.role, err)
		}
	}

	projects := project.NewRepository(pool)
	escrows := escrow.NewRepository(pool)
	ledger := transaction.NewRepository(pool)
	milestones := milestone.NewRepository(pool)

	proj, err := projects.CreateProject(ctx, project.CreateProjectParams{
		ClientID:     clientID,
		FreelancerID: freelancerID,
		Title:        "Suspension test",
		Budget:       2000,
	})
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}
	agr, err := projects.CreateAgreement(ctx, project.CreateAgreementParams{ProjectID: proj.ID, Amount: 2000})
	if err != nil {
		t.Fatalf("seed agreement: %v", err)
	}
	if _, err := pool.Exec(ctx, `UPDATE projects SET status = 'in_progress' WHERE id = $1`, proj.ID); err != nil {
		t.Fatalf("advance project: %v", err)
	}
	held, err := escrows.Fund(ctx, proj.ID, 2000)
	if err != nil {
		t.Fatalf("seed escrow: %v", err)
	}

	// A submitted milestone whose silence window already lapsed: without the
	// suspension the sweep would pay it out.
	var milestoneID string
	if err := pool.QueryRow(ctx,
		`INSERT INTO milestones (agreement_id, milestone_number, title, amount, due_date, sla_deadline,
                                 status, final_amount, submitted_at, auto_release_at)
         VALUES ($1, 1, 'Contested deliverable', 500, now() + interval '1 day', now() + interval '2 days',
                 'submitted', 500, now() - interval '2 hours', now() - interval '1 hour') RETURNING id`,
		agr.ID).Scan(&milestoneID); err != nil {
		t.Fatalf("seed milestone: %v", err)
	}

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM activity_logs WHERE actor_id = $1`, adminID)
		pool.Exec(ctx2, `DELETE FROM disputes WHERE project_id = $1`, proj.ID)
		pool.Exec(ctx2, `DELETE FROM milestones WHERE agreement_id = $1`, agr.ID)
		pool.Exec(ctx2, `DELETE FROM transactions WHERE escrow_id = $1`, held.ID)
		pool.Exec(ctx2, `DELETE FROM escrow_adjustments WHERE escrow_id = $1`, held.ID)
		pool.Exec(ctx2, `DELETE FROM escrows WHERE id = $1`, held.ID)
		pool.Exec(ctx2, `DELETE FROM agreements WHERE id = $1`, agr.ID)
		pool.Exec(ctx2, `DELETE FROM projects WHERE id = $1`, proj.ID)
		pool.Exec(ctx2, `DELETE FROM users WHERE id IN ($1, $2, $3)`, clientID, freelancerID, adminID)
	})

	svc := NewService(pool, NewRepository(pool), projects, milestones,
		payment.LogProvider{Log: zerolog.Nop()}, notify.LogSender{Log: zerolog.Nop()}, zerolog.Nop())

	// Filing against a project that does not exist is a miss, not a standing
	// failure.
	if _, err := svc.File(ctx, FileParams{
		ProjectID: uuid.NewString(),
		FiledBy:   clientID,
		Category:  CategoryQuality,
		Reason:    "claim against a project that was never created",
		Amount:    100,
	}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing project, got %v", err)
	}

	d, err := svc.File(ctx, FileParams{
		ProjectID:   proj.ID,
		MilestoneID: &milestoneID,
		FiledBy:     clientID,
		Category:    CategoryQuality,
		Reason:      "deliverable rejected, settlement must halt",
		Amount:      2000,
	})
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	if d.Status != StatusPendingPayment {
		t.Fatalf("expected pending_payment, got %s", d.Status)
	}

	proj, err = projects.GetProject(ctx, proj.ID)
	if err != nil {
		t.Fatalf("reload project: %v", err)
	}
	if proj.Status != project.StatusDisputed {
		t.Fatalf("filing must move the project to disputed, got %s", proj.Status)
	}

	m, err := milestones.GetByID(ctx, milestoneID)
	if err != nil {
		t.Fatalf("reload milestone: %v", err)
	}
	if m.Status != milestone.StatusDisputed {
		t.Fatalf("filing must mark the milestone disputed, got %s", m.Status)
	}
	if m.AutoReleaseAt != nil {
		t.Fatal("filing must clear the auto-release timer")
	}
	if m.DisputeID == nil || *m.DisputeID != d.ID {
		t.Fatalf("milestone must link back to the dispute, got %v", m.DisputeID)
	}

	// The sweep must no longer see the milestone.
	ids, err := milestones.ListAutoReleasable(ctx, time.Now().Add(24*time.Hour), 100)
	if err != nil {
		t.Fatalf("list auto-releasable: %v", err)
	}
	for _, id := range ids {
		if id == milestoneID {
			t.Fatal("a disputed milestone must not be auto-releasable")
		}
	}

	if _, err := svc.PayFee(ctx, clientID, d.ID, "pay_suspend_test"); err != nil {
		t.Fatalf("pay fee: %v", err)
	}
	if _, err := svc.StartReview(ctx, adminID, auth.RoleAdmin, d.ID); err != nil {
		t.Fatalf("start review: %v", err)
	}

	engine := NewEngine(pool, NewStore(escrows, projects, ledger),
		notify.LogSender{Log: zerolog.Nop()}, activity.NewPGRecorder(pool), zerolog.Nop())

	resolved, err := engine.Resolve(ctx, ResolveParams{
		DisputeID:    d.ID,
		Decision:     DecisionClientFavor,
		Reasoning:    "the deliverable does not meet the agreed acceptance criteria",
		ResolverID:   adminID,
		ResolverRole: auth.RoleAdmin,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Resolution.RefundAmount != 2000 {
		t.Fatalf("expected full refund, got %+v", resolved.Resolution)
	}

	held, err = escrows.GetByID(ctx, held.ID)
	if err != nil {
		t.Fatalf("reload escrow: %v", err)
	}
	if held.Status != escrow.StatusRefunded || held.Amount != 0 || held.RefundedAmount != 2000 {
		t.Fatalf("expected drained refunded escrow, got %+v", held)
	}

	m, err = milestones.GetByID(ctx, milestoneID)
	if err != nil {
		t.Fatalf("reload milestone: %v", err)
	}
	if m.Status != milestone.StatusCancelled {
		t.Fatalf("client favor must cancel the disputed milestone, got %s", m.Status)
	}

	proj, err = projects.GetProject(ctx, proj.ID)
	if err != nil {
		t.Fatalf("reload project: %v", err)
	}
	if proj.Status != project.StatusCancelled {
		t.Fatalf("expected cancelled project, got %s", proj.Status)
	}

	var agreementStatus string
	if err := pool.QueryRow(ctx, `SELECT status::text FROM agreements WHERE id = $1`, agr.ID).Scan(&agreementStatus); err != nil {
		t.Fatalf("reload agreement: %v", err)
	}
	if agreementStatus != string(project.AgreementCancelled) {
		t.Fatalf("expected cancelled agreement, got %s", agreementStatus)
	}

	// The settled escrow is immutable: a late decision cannot rewrite it.
	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback(ctx)
	if _, err := escrows.ApplyResolutionTx(ctx, tx, held.ID, 0, 2000, escrow.StatusRefunded, "late decision"); !errors.Is(err, escrow.ErrTerminal) {
		t.Fatalf("expected ErrTerminal on settled escrow, got %v", err)
	}
}
