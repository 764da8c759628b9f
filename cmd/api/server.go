package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"escrowflow/auth"
	"escrowflow/dispute"
	"escrowflow/escrow"
	"escrowflow/milestone"
	"escrowflow/project"
	"escrowflow/transaction"
)

type ctxKey int

const (
	ctxKeyUserID ctxKey = iota
	ctxKeyRole
)

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (string, auth.Role, error)
}

type projectStore interface {
	CreateProject(ctx context.Context, params project.CreateProjectParams) (project.Project, error)
	GetProject(ctx context.Context, id string) (project.Project, error)
	CreateAgreement(ctx context.Context, params project.CreateAgreementParams) (project.Agreement, error)
	ActiveAgreement(ctx context.Context, projectID string) (project.Agreement, error)
}

type escrowStore interface {
	Fund(ctx context.Context, projectID string, amount float64) (escrow.Escrow, error)
	GetByProject(ctx context.Context, projectID string) (escrow.Escrow, error)
	History(ctx context.Context, escrowID string) ([]escrow.Adjustment, error)
	Refund(ctx context.Context, escrowID string, delta float64, reason string) (escrow.Escrow, error)
}

type ledgerStore interface {
	ListByEscrow(ctx context.Context, escrowID string) ([]transaction.Record, error)
}

type milestoneService interface {
	Create(ctx context.Context, params milestone.CreateParams) (milestone.Milestone, error)
	Get(ctx context.Context, id string) (milestone.Milestone, error)
	ListByAgreement(ctx context.Context, agreementID string) ([]milestone.Milestone, error)
	Start(ctx context.Context, freelancerID, id string) (milestone.Milestone, error)
	Submit(ctx context.Context, freelancerID, id string, deliverables []milestone.Deliverable) (milestone.Milestone, error)
	Confirm(ctx context.Context, clientID, id string) (milestone.Milestone, error)
	RequestRevision(ctx context.Context, clientID, id, note string) (milestone.Milestone, error)
	Cancel(ctx context.Context, actorID, id string) (milestone.Milestone, error)
	Release(ctx context.Context, actorID, id string) (milestone.Milestone, error)
}

type disputeService interface {
	File(ctx context.Context, params dispute.FileParams) (dispute.Dispute, error)
	PayFee(ctx context.Context, filerID, disputeID, paymentRef string) (dispute.Dispute, error)
	AddEvidence(ctx context.Context, actorID, disputeID string, ev dispute.Evidence) (dispute.Dispute, error)
	AddMessage(ctx context.Context, actorID, disputeID, body string) (dispute.Dispute, error)
	Respond(ctx context.Context, respondentID, disputeID, body string) (dispute.Dispute, error)
	Withdraw(ctx context.Context, filerID, disputeID string) (dispute.Dispute, error)
	StartReview(ctx context.Context, adminID string, role auth.Role, disputeID string) (dispute.Dispute, error)
	RequestResponse(ctx context.Context, adminID string, role auth.Role, disputeID string) (dispute.Dispute, error)
	Escalate(ctx context.Context, adminID string, role auth.Role, disputeID string) (dispute.Dispute, error)
	Get(ctx context.Context, disputeID string) (dispute.Dispute, error)
	ListByProject(ctx context.Context, projectID string) ([]dispute.Dispute, error)
}

type resolver interface {
	Resolve(ctx context.Context, params dispute.ResolveParams) (dispute.Dispute, error)
}

// Server is the HTTP surface. Handlers translate between JSON and the domain
// services; all authorization beyond role gating lives in the services.
type Server struct {
	authService      authService
	projectStore     projectStore
	escrowStore      escrowStore
	ledgerStore      ledgerStore
	milestoneService milestoneService
	disputeService   disputeService
	resolver         resolver
	log              zerolog.Logger
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)

	mux.Handle("POST /api/projects", s.authed(s.handleCreateProject))
	mux.Handle("GET /api/projects/{id}", s.authed(s.handleGetProject))
	mux.Handle("POST /api/projects/{id}/agreement", s.authed(s.handleCreateAgreement))
	mux.Handle("GET /api/projects/{id}/agreement", s.authed(s.handleGetAgreement))
	mux.Handle("POST /api/projects/{id}/escrow", s.authed(s.handleFundEscrow))
	mux.Handle("GET /api/projects/{id}/escrow", s.authed(s.handleGetEscrow))
	mux.Handle("GET /api/projects/{id}/disputes", s.authed(s.handleProjectDisputes))

	mux.Handle("GET /api/escrows/{id}/adjustments", s.authed(s.handleEscrowAdjustments))
	mux.Handle("GET /api/escrows/{id}/transactions", s.authed(s.handleEscrowTransactions))
	mux.Handle("POST /api/escrows/{id}/refund", s.authed(s.handleRefundEscrow))

	mux.Handle("POST /api/milestones", s.authed(s.handleCreateMilestone))
	mux.Handle("GET /api/milestones/{id}", s.authed(s.handleGetMilestone))
	mux.Handle("GET /api/agreements/{id}/milestones", s.authed(s.handleAgreementMilestones))
	mux.Handle("POST /api/milestones/{id}/start", s.authed(s.handleStartMilestone))
	mux.Handle("POST /api/milestones/{id}/submit", s.authed(s.handleSubmitMilestone))
	mux.Handle("POST /api/milestones/{id}/confirm", s.authed(s.handleConfirmMilestone))
	mux.Handle("POST /api/milestones/{id}/revision", s.authed(s.handleRequestRevision))
	mux.Handle("POST /api/milestones/{id}/release", s.authed(s.handleReleaseMilestone))
	mux.Handle("POST /api/milestones/{id}/cancel", s.authed(s.handleCancelMilestone))

	mux.Handle("POST /api/disputes", s.authed(s.handleFileDispute))
	mux.Handle("GET /api/disputes/{id}", s.authed(s.handleGetDispute))
	mux.Handle("POST /api/disputes/{id}/pay", s.authed(s.handlePayDisputeFee))
	mux.Handle("POST /api/disputes/{id}/evidence", s.authed(s.handleAddEvidence))
	mux.Handle("POST /api/disputes/{id}/messages", s.authed(s.handleAddMessage))
	mux.Handle("POST /api/disputes/{id}/respond", s.authed(s.handleRespondDispute))
	mux.Handle("POST /api/disputes/{id}/withdraw", s.authed(s.handleWithdrawDispute))
	mux.Handle("POST /api/disputes/{id}/review", s.authed(s.handleStartReview))
	mux.Handle("POST /api/disputes/{id}/request-response", s.authed(s.handleRequestResponse))
	mux.Handle("POST /api/disputes/{id}/escalate", s.authed(s.handleEscalateDispute))
	mux.Handle("POST /api/disputes/{id}/resolve", s.authed(s.handleResolveDispute))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

// authed verifies the bearer token and stashes the caller's identity in the
// request context.
func (s *Server) authed(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		userID, role, err := s.authService.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		ctx = context.WithValue(ctx, ctxKeyRole, role)
		next(w, r.WithContext(ctx))
	})
}

func callerID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKeyUserID).(string)
	return id
}

func callerRole(r *http.Request) auth.Role {
	role, _ := r.Context().Value(ctxKeyRole).(auth.Role)
	return role
}

// --- auth ---

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, userResponse{
		ID:       user.ID,
		Email:    user.Email,
		FullName: user.FullName,
		Role:     string(user.Role),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token: result.Token,
		User: userResponse{
			ID:       result.User.ID,
			Email:    result.User.Email,
			FullName: result.User.FullName,
			Role:     string(result.User.Role),
		},
	})
}

// --- projects / agreements ---

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FreelancerID string  `json:"freelancerId"`
		Title        string  `json:"title"`
		Budget       float64 `json:"budget"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	p, err := s.projectStore.CreateProject(r.Context(), project.CreateProjectParams{
		ClientID:     callerID(r),
		FreelancerID: req.FreelancerID,
		Title:        req.Title,
		Budget:       req.Budget,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProjectResponse(p))
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.projectStore.GetProject(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectResponse(p))
}

func (s *Server) handleCreateAgreement(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount float64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	a, err := s.projectStore.CreateAgreement(r.Context(), project.CreateAgreementParams{
		ProjectID: r.PathValue("id"),
		Amount:    req.Amount,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAgreementResponse(a))
}

func (s *Server) handleGetAgreement(w http.ResponseWriter, r *http.Request) {
	a, err := s.projectStore.ActiveAgreement(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgreementResponse(a))
}

// --- escrow ---

func (s *Server) handleFundEscrow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount float64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	e, err := s.escrowStore.Fund(r.Context(), r.PathValue("id"), req.Amount)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEscrowResponse(e))
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	e, err := s.escrowStore.GetByProject(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEscrowResponse(e))
}

func (s *Server) handleEscrowAdjustments(w http.ResponseWriter, r *http.Request) {
	adjustments, err := s.escrowStore.History(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	items := make([]adjustmentResponse, 0, len(adjustments))
	for _, a := range adjustments {
		items = append(items, adjustmentResponse{
			ID:             a.ID,
			PreviousAmount: a.PreviousAmount,
			NewAmount:      a.NewAmount,
			RefundAmount:   a.RefundAmount,
			Reason:         a.Reason,
			CreatedAt:      a.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, listResponse[adjustmentResponse]{Items: items, Total: len(items)})
}

func (s *Server) handleEscrowTransactions(w http.ResponseWriter, r *http.Request) {
	records, err := s.ledgerStore.ListByEscrow(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	items := make([]transactionResponse, 0, len(records))
	for _, rec := range records {
		items = append(items, transactionResponse{
			ID:        rec.ID,
			Type:      string(rec.Type),
			Amount:    rec.Amount,
			Status:    string(rec.Status),
			CreatedAt: rec.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, listResponse[transactionResponse]{Items: items, Total: len(items)})
}

func (s *Server) handleRefundEscrow(w http.ResponseWriter, r *http.Request) {
	if callerRole(r) != auth.RoleAdmin {
		writeError(w, http.StatusForbidden, "admin role required")
		return
	}

	var req struct {
		Amount float64 `json:"amount"`
		Reason string  `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	e, err := s.escrowStore.Refund(r.Context(), r.PathValue("id"), req.Amount, req.Reason)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEscrowResponse(e))
}

// --- milestones ---

func (s *Server) handleCreateMilestone(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgreementID    string  `json:"agreementId"`
		Number         int     `json:"number"`
		Title          string  `json:"title"`
		Amount         float64 `json:"amount"`
		DueDate        string  `json:"dueDate"`
		SLADeadline    string  `json:"slaDeadline"`
		PenaltyPercent float64 `json:"penaltyPercent"`
		BonusPercent   float64 `json:"bonusPercent"`
		MaxPenaltyCap  float64 `json:"maxPenaltyCap"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	due, err := time.Parse(time.RFC3339, req.DueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "dueDate must be RFC 3339")
		return
	}
	sla, err := time.Parse(time.RFC3339, req.SLADeadline)
	if err != nil {
		writeError(w, http.StatusBadRequest, "slaDeadline must be RFC 3339")
		return
	}

	m, err := s.milestoneService.Create(r.Context(), milestone.CreateParams{
		AgreementID:    req.AgreementID,
		Number:         req.Number,
		Title:          req.Title,
		Amount:         req.Amount,
		DueDate:        due,
		SLADeadline:    sla,
		PenaltyPercent: req.PenaltyPercent,
		BonusPercent:   req.BonusPercent,
		MaxPenaltyCap:  req.MaxPenaltyCap,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMilestoneResponse(m))
}

func (s *Server) handleGetMilestone(w http.ResponseWriter, r *http.Request) {
	m, err := s.milestoneService.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMilestoneResponse(m))
}

func (s *Server) handleAgreementMilestones(w http.ResponseWriter, r *http.Request) {
	milestones, err := s.milestoneService.ListByAgreement(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	items := make([]milestoneResponse, 0, len(milestones))
	for _, m := range milestones {
		items = append(items, toMilestoneResponse(m))
	}
	writeJSON(w, http.StatusOK, listResponse[milestoneResponse]{Items: items, Total: len(items)})
}

func (s *Server) handleStartMilestone(w http.ResponseWriter, r *http.Request) {
	m, err := s.milestoneService.Start(r.Context(), callerID(r), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMilestoneResponse(m))
}

func (s *Server) handleSubmitMilestone(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Deliverables []struct {
			URL  string `json:"url"`
			Note string `json:"note"`
		} `json:"deliverables"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	deliverables := make([]milestone.Deliverable, 0, len(req.Deliverables))
	for _, d := range req.Deliverables {
		deliverables = append(deliverables, milestone.Deliverable{URL: d.URL, Note: d.Note})
	}

	m, err := s.milestoneService.Submit(r.Context(), callerID(r), r.PathValue("id"), deliverables)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMilestoneResponse(m))
}

func (s *Server) handleConfirmMilestone(w http.ResponseWriter, r *http.Request) {
	m, err := s.milestoneService.Confirm(r.Context(), callerID(r), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMilestoneResponse(m))
}

func (s *Server) handleRequestRevision(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Note string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	m, err := s.milestoneService.RequestRevision(r.Context(), callerID(r), r.PathValue("id"), req.Note)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMilestoneResponse(m))
}

func (s *Server) handleReleaseMilestone(w http.ResponseWriter, r *http.Request) {
	m, err := s.milestoneService.Release(r.Context(), callerID(r), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMilestoneResponse(m))
}

func (s *Server) handleCancelMilestone(w http.ResponseWriter, r *http.Request) {
	m, err := s.milestoneService.Cancel(r.Context(), callerID(r), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMilestoneResponse(m))
}

// --- disputes ---

func (s *Server) handleFileDispute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID   string  `json:"projectId"`
		MilestoneID *string `json:"milestoneId"`
		Category    string  `json:"category"`
		Reason      string  `json:"reason"`
		Amount      float64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	d, err := s.disputeService.File(r.Context(), dispute.FileParams{
		ProjectID:   req.ProjectID,
		MilestoneID: req.MilestoneID,
		FiledBy:     callerID(r),
		Category:    dispute.Category(req.Category),
		Reason:      req.Reason,
		Amount:      req.Amount,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDisputeResponse(d))
}

func (s *Server) handleGetDispute(w http.ResponseWriter, r *http.Request) {
	d, err := s.disputeService.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}

func (s *Server) handleProjectDisputes(w http.ResponseWriter, r *http.Request) {
	disputes, err := s.disputeService.ListByProject(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	items := make([]disputeResponse, 0, len(disputes))
	for _, d := range disputes {
		items = append(items, toDisputeResponse(d))
	}
	writeJSON(w, http.StatusOK, listResponse[disputeResponse]{Items: items, Total: len(items)})
}

func (s *Server) handlePayDisputeFee(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PaymentRef string `json:"paymentRef"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	d, err := s.disputeService.PayFee(r.Context(), callerID(r), r.PathValue("id"), req.PaymentRef)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}

func (s *Server) handleAddEvidence(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL         string `json:"url"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	d, err := s.disputeService.AddEvidence(r.Context(), callerID(r), r.PathValue("id"), dispute.Evidence{
		URL:         req.URL,
		Description: req.Description,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}

func (s *Server) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	d, err := s.disputeService.AddMessage(r.Context(), callerID(r), r.PathValue("id"), req.Body)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}

func (s *Server) handleRespondDispute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	d, err := s.disputeService.Respond(r.Context(), callerID(r), r.PathValue("id"), req.Body)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}

func (s *Server) handleWithdrawDispute(w http.ResponseWriter, r *http.Request) {
	d, err := s.disputeService.Withdraw(r.Context(), callerID(r), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}

func (s *Server) handleStartReview(w http.ResponseWriter, r *http.Request) {
	d, err := s.disputeService.StartReview(r.Context(), callerID(r), callerRole(r), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}

func (s *Server) handleRequestResponse(w http.ResponseWriter, r *http.Request) {
	d, err := s.disputeService.RequestResponse(r.Context(), callerID(r), callerRole(r), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}

func (s *Server) handleEscalateDispute(w http.ResponseWriter, r *http.Request) {
	d, err := s.disputeService.Escalate(r.Context(), callerID(r), callerRole(r), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Decision      string   `json:"decision"`
		AwardedAmount *float64 `json:"awardedAmount"`
		RefundAmount  *float64 `json:"refundAmount"`
		Reasoning     string   `json:"reasoning"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	d, err := s.resolver.Resolve(r.Context(), dispute.ResolveParams{
		DisputeID:     r.PathValue("id"),
		Decision:      dispute.Decision(req.Decision),
		AwardedAmount: req.AwardedAmount,
		RefundAmount:  req.RefundAmount,
		Reasoning:     req.Reasoning,
		ResolverID:    callerID(r),
		ResolverRole:  callerRole(r),
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}

// --- error mapping ---

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrUserNotFound),
		errors.Is(err, project.ErrNotFound),
		errors.Is(err, escrow.ErrNotFound),
		errors.Is(err, milestone.ErrNotFound),
		errors.Is(err, dispute.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, milestone.ErrForbidden), errors.Is(err, dispute.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, auth.ErrDuplicateEmail),
		errors.Is(err, milestone.ErrDuplicateNumber),
		errors.Is(err, milestone.ErrInvalidState),
		errors.Is(err, dispute.ErrOpenDisputeExists),
		errors.Is(err, dispute.ErrBadStatus),
		errors.Is(err, dispute.ErrAlreadyResolved),
		errors.Is(err, project.ErrBadTransition),
		errors.Is(err, escrow.ErrTerminal):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, milestone.ErrRevisionLimit),
		errors.Is(err, milestone.ErrInvalidInput),
		errors.Is(err, dispute.ErrInvalidInput),
		errors.Is(err, dispute.ErrSplitExceedsPool),
		errors.Is(err, project.ErrInvalidInput),
		errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrInsufficientFunds),
		errors.Is(err, transaction.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
