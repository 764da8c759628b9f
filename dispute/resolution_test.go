package dispute

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"escrowflow/auth"
	"escrowflow/escrow"
	"escrowflow/notify"
	"escrowflow/project"
	"escrowflow/transaction"
)

func milestoneRef(id string) *string { return &id }

func validParams(decision Decision) ResolveParams {
	return ResolveParams{
		DisputeID:    "d1",
		Decision:     decision,
		Reasoning:    "the delivered work matches the agreed milestones",
		ResolverID:   "admin-1",
		ResolverRole: auth.RoleAdmin,
	}
}

func newTestEngine(store *fakeStore) (*Engine, *fakePool, *fakeSender, *fakeRecorder) {
	pool := &fakePool{}
	sender := &fakeSender{}
	audit := &fakeRecorder{}
	engine := NewEngine(pool, store, sender, audit, zerolog.Nop())
	return engine, pool, sender, audit
}

func TestResolve_FreelancerFavor(t *testing.T) {
	store := &fakeStore{
		dispute: Dispute{ID: "d1", Number: "DSP-1", ProjectID: "p1", MilestoneID: milestoneRef("m1"), Status: StatusUnderReview},
		escrow:  escrow.Escrow{ID: "e1", ProjectID: "p1", Amount: 1500, OriginalAmount: 2000},
	}
	engine, pool, sender, audit := newTestEngine(store)

	d, err := engine.Resolve(context.Background(), validParams(DecisionFreelancerFavor))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if !pool.tx.committed {
		t.Error("expected commit")
	}
	if d.Status != StatusResolved || d.Resolution == nil {
		t.Fatalf("expected resolved dispute, got %+v", d)
	}
	if d.Resolution.AwardedAmount != 2000 || d.Resolution.RefundAmount != 0 {
		t.Fatalf("expected full pool award, got %+v", d.Resolution)
	}
	if d.Resolution.AwardedTo != store.parties.FreelancerID {
		t.Errorf("expected award to freelancer, got %q", d.Resolution.AwardedTo)
	}

	if len(store.synced) != 1 || store.synced[0].status != escrow.StatusReleased {
		t.Fatalf("expected one escrow sync to released, got %+v", store.synced)
	}
	// The whole pool left the escrow toward the freelancer: nothing stays
	// held and nothing counts as refunded.
	if store.synced[0].amount != 0 || store.synced[0].refunded != 0 {
		t.Fatalf("full award must drain the escrow, got amount=%.2f refunded=%.2f",
			store.synced[0].amount, store.synced[0].refunded)
	}
	if len(store.movements) != 1 || store.movements[0].kind != transaction.TypeDisputeAward || store.movements[0].amount != 2000 {
		t.Fatalf("expected one award movement, got %+v", store.movements)
	}
	if len(store.milestonesReleased) != 1 || store.milestonesReleased[0] != "m1" {
		t.Errorf("expected the disputed milestone released, got %v", store.milestonesReleased)
	}
	if len(store.milestonesCancelled) != 0 {
		t.Errorf("award must not cancel the milestone, got %v", store.milestonesCancelled)
	}
	if store.projectStatus == nil || *store.projectStatus != project.StatusCompleted {
		t.Errorf("expected project completed, got %v", store.projectStatus)
	}
	if store.agreementStatus == nil || *store.agreementStatus != project.AgreementCompleted {
		t.Errorf("expected agreement completed, got %v", store.agreementStatus)
	}
	if len(sender.sent) != 2 {
		t.Errorf("expected both parties notified, got %d", len(sender.sent))
	}
	if len(audit.records) != 1 {
		t.Errorf("expected one audit record, got %d", len(audit.records))
	}
}

func TestResolve_ClientFavorRefundsAndCancels(t *testing.T) {
	store := &fakeStore{
		dispute: Dispute{ID: "d1", Number: "DSP-2", ProjectID: "p1", MilestoneID: milestoneRef("m2"), Status: StatusUnderReview},
		escrow:  escrow.Escrow{ID: "e1", ProjectID: "p1", Amount: 800, OriginalAmount: 800},
	}
	engine, pool, _, _ := newTestEngine(store)

	d, err := engine.Resolve(context.Background(), validParams(DecisionClientFavor))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if !pool.tx.committed {
		t.Error("expected commit")
	}
	if d.Resolution.AwardedAmount != 0 || d.Resolution.RefundAmount != 800 {
		t.Fatalf("expected full refund, got %+v", d.Resolution)
	}
	if !d.Resolution.Penalized {
		t.Error("expected freelancer penalized on client favor")
	}
	if len(store.synced) != 1 || store.synced[0].status != escrow.StatusRefunded {
		t.Fatalf("expected escrow refunded, got %+v", store.synced)
	}
	if store.synced[0].amount != 0 || store.synced[0].refunded != 800 {
		t.Fatalf("full refund must empty the escrow toward the client, got %+v", store.synced[0])
	}
	if len(store.movements) != 1 || store.movements[0].kind != transaction.TypeDisputeRefund {
		t.Fatalf("expected one refund movement, got %+v", store.movements)
	}
	if len(store.milestonesCancelled) != 1 || store.milestonesCancelled[0] != "m2" {
		t.Errorf("expected the disputed milestone cancelled, got %v", store.milestonesCancelled)
	}
	if len(store.milestonesReleased) != 0 {
		t.Errorf("refund must not release the milestone, got %v", store.milestonesReleased)
	}
	if *store.projectStatus != project.StatusCancelled || *store.agreementStatus != project.AgreementCancelled {
		t.Errorf("expected project and agreement cancelled, got %v / %v", *store.projectStatus, *store.agreementStatus)
	}
}

func TestResolve_SplitLogsBothMovements(t *testing.T) {
	store := &fakeStore{
		dispute: Dispute{ID: "d1", Number: "DSP-3", ProjectID: "p1", MilestoneID: milestoneRef("m3"), Status: StatusUnderReview},
		escrow:  escrow.Escrow{ID: "e1", ProjectID: "p1", Amount: 2000, OriginalAmount: 2000},
	}
	engine, _, _, _ := newTestEngine(store)

	d, err := engine.Resolve(context.Background(), validParams(DecisionSplit))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if d.Resolution.AwardedAmount != 1000 || d.Resolution.RefundAmount != 1000 {
		t.Fatalf("expected even split of 2000, got %+v", d.Resolution)
	}
	if len(store.synced) != 1 || store.synced[0].status != escrow.StatusPartialRefund {
		t.Fatalf("expected partial refund status, got %+v", store.synced)
	}
	if store.synced[0].amount != 1000 || store.synced[0].refunded != 1000 {
		t.Fatalf("split must record the awarded share as held, got %+v", store.synced[0])
	}
	if len(store.movements) != 2 {
		t.Fatalf("expected award and refund movements, got %+v", store.movements)
	}
	if len(store.milestonesReleased) != 1 || store.milestonesReleased[0] != "m3" {
		t.Errorf("split settles the milestone as delivered, got %v", store.milestonesReleased)
	}
}

func TestResolve_DismissedTouchesNothing(t *testing.T) {
	store := &fakeStore{
		dispute: Dispute{ID: "d1", Number: "DSP-4", ProjectID: "p1", MilestoneID: milestoneRef("m4"), Status: StatusUnderReview},
		escrow:  escrow.Escrow{ID: "e1", ProjectID: "p1", Amount: 500, OriginalAmount: 500},
	}
	engine, pool, _, _ := newTestEngine(store)

	d, err := engine.Resolve(context.Background(), validParams(DecisionDismissed))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if !pool.tx.committed {
		t.Error("expected commit")
	}
	if d.Resolution.AwardedAmount != 0 || d.Resolution.RefundAmount != 0 {
		t.Fatalf("expected zero amounts on dismissal, got %+v", d.Resolution)
	}
	if len(store.synced) != 0 {
		t.Errorf("dismissal must not touch the escrow, got %+v", store.synced)
	}
	if len(store.movements) != 0 {
		t.Errorf("dismissal must not write movements, got %+v", store.movements)
	}
	if store.projectStatus != nil || store.agreementStatus != nil {
		t.Error("dismissal must not transition project or agreement")
	}
	if len(store.milestonesReleased) != 0 || len(store.milestonesCancelled) != 0 {
		t.Error("dismissal must leave the milestone untouched")
	}
}

func TestResolve_AlreadyResolvedRollsBack(t *testing.T) {
	store := &fakeStore{
		dispute: Dispute{ID: "d1", Number: "DSP-5", ProjectID: "p1", Status: StatusResolved},
	}
	engine, pool, sender, _ := newTestEngine(store)

	_, err := engine.Resolve(context.Background(), validParams(DecisionSplit))
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
	if pool.tx.committed {
		t.Error("expected no commit")
	}
	if !pool.tx.rolled {
		t.Error("expected rollback")
	}
	if len(sender.sent) != 0 {
		t.Error("expected no notifications on failed resolve")
	}
}

func TestResolve_GuardedSaveLosesRace(t *testing.T) {
	store := &fakeStore{
		dispute: Dispute{ID: "d1", Number: "DSP-6", ProjectID: "p1", Status: StatusUnderReview},
		escrow:  escrow.Escrow{ID: "e1", ProjectID: "p1", Amount: 500, OriginalAmount: 500},
		saveErr: ErrAlreadyResolved,
	}
	engine, pool, _, _ := newTestEngine(store)

	_, err := engine.Resolve(context.Background(), validParams(DecisionSplit))
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
	if pool.tx.committed {
		t.Error("expected no commit when the guarded update misses")
	}
	if len(store.synced) != 0 || len(store.movements) != 0 {
		t.Error("expected no escrow writes after losing the race")
	}
}

func TestResolve_Validation(t *testing.T) {
	store := &fakeStore{}
	engine, pool, _, _ := newTestEngine(store)

	params := validParams(DecisionSplit)
	params.ResolverRole = auth.RoleClient
	if _, err := engine.Resolve(context.Background(), params); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-admin, got %v", err)
	}

	params = validParams(Decision("coin_toss"))
	if _, err := engine.Resolve(context.Background(), params); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown decision, got %v", err)
	}

	params = validParams(DecisionSplit)
	params.Reasoning = "too short"
	if _, err := engine.Resolve(context.Background(), params); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for thin reasoning, got %v", err)
	}

	if pool.tx != nil {
		t.Error("validation failures must not open a transaction")
	}
}

func TestComputeSplit(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	tests := []struct {
		name       string
		decision   Decision
		pool       float64
		awarded    *float64
		refund     *float64
		wantAward  float64
		wantRefund float64
		wantErr    error
	}{
		{name: "freelancer favor takes pool", decision: DecisionFreelancerFavor, pool: 2000, wantAward: 2000},
		{name: "client favor refunds pool", decision: DecisionClientFavor, pool: 2000, wantRefund: 2000},
		{name: "dismissed moves nothing", decision: DecisionDismissed, pool: 2000},
		{name: "even split", decision: DecisionSplit, pool: 2000, wantAward: 1000, wantRefund: 1000},
		{name: "odd cent goes to refund", decision: DecisionSplit, pool: 100.01, wantAward: 50, wantRefund: 50.01},
		{name: "explicit amounts", decision: DecisionSplit, pool: 2000, awarded: f(1500), refund: f(500), wantAward: 1500, wantRefund: 500},
		{name: "over-allocation rejected", decision: DecisionSplit, pool: 2000, awarded: f(1800), refund: f(500), wantErr: ErrSplitExceedsPool},
		{name: "negative award rejected", decision: DecisionSplit, pool: 2000, awarded: f(-10), wantErr: ErrInvalidInput},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			award, refund, err := computeSplit(tc.decision, tc.pool, tc.awarded, tc.refund)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if award != tc.wantAward || refund != tc.wantRefund {
				t.Fatalf("expected %.2f/%.2f, got %.2f/%.2f", tc.wantAward, tc.wantRefund, award, refund)
			}
		})
	}
}

type syncCall struct {
	escrowID string
	amount   float64
	refunded float64
	status   escrow.Status
}

type movementCall struct {
	kind   transaction.Type
	amount float64
}

type fakeStore struct {
	dispute Dispute
	lockErr error
	escrow  escrow.Escrow
	parties Parties
	saveErr error

	saved               *Resolution
	synced              []syncCall
	movements           []movementCall
	milestonesReleased  []string
	milestonesCancelled []string
	projectStatus       *project.Status
	agreementStatus     *project.AgreementStatus
}

func (f *fakeStore) LockDispute(_ context.Context, _ pgx.Tx, _ string) (Dispute, error) {
	return f.dispute, f.lockErr
}

func (f *fakeStore) LockEscrow(_ context.Context, _ pgx.Tx, _ string) (escrow.Escrow, error) {
	return f.escrow, nil
}

func (f *fakeStore) Parties(_ context.Context, _ pgx.Tx, _ string) (Parties, error) {
	if f.parties == (Parties{}) {
		f.parties = Parties{
			ClientID:        "client-1",
			FreelancerID:    "freelancer-1",
			ClientEmail:     "client@example.com",
			FreelancerEmail: "freelancer@example.com",
		}
	}
	return f.parties, nil
}

func (f *fakeStore) SaveResolution(_ context.Context, _ pgx.Tx, _ string, res Resolution, _ AdminAction) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = &res
	return nil
}

func (f *fakeStore) SyncEscrow(_ context.Context, _ pgx.Tx, escrowID string, amount, refunded float64, status escrow.Status, _ string) error {
	f.synced = append(f.synced, syncCall{escrowID: escrowID, amount: amount, refunded: refunded, status: status})
	return nil
}

func (f *fakeStore) LogMovement(_ context.Context, _ pgx.Tx, _ string, movement transaction.Type, amount float64) error {
	f.movements = append(f.movements, movementCall{kind: movement, amount: amount})
	return nil
}

func (f *fakeStore) ReleaseMilestone(_ context.Context, _ pgx.Tx, milestoneID string, _ time.Time) error {
	f.milestonesReleased = append(f.milestonesReleased, milestoneID)
	return nil
}

func (f *fakeStore) CancelMilestone(_ context.Context, _ pgx.Tx, milestoneID string) error {
	f.milestonesCancelled = append(f.milestonesCancelled, milestoneID)
	return nil
}

func (f *fakeStore) TransitionProject(_ context.Context, _ pgx.Tx, _ string, status project.Status) error {
	f.projectStatus = &status
	return nil
}

func (f *fakeStore) CloseAgreement(_ context.Context, _ pgx.Tx, _ string, status project.AgreementStatus) error {
	f.agreementStatus = &status
	return nil
}

type fakeSender struct {
	sent []string
}

func (f *fakeSender) Notify(_ context.Context, recipientEmail string, _ notify.Kind, _ map[string]any) error {
	f.sent = append(f.sent, recipientEmail)
	return nil
}

type fakeRecorder struct {
	records []string
}

func (f *fakeRecorder) Record(_ context.Context, _, description string) error {
	f.records = append(f.records, description)
	return nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
