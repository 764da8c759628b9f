package main

import (
	"time"

	"escrowflow/dispute"
	"escrowflow/escrow"
	"escrowflow/milestone"
	"escrowflow/project"
)

type listResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

type userResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Role     string `json:"role"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type projectResponse struct {
	ID           string  `json:"id"`
	ClientID     string  `json:"clientId"`
	FreelancerID string  `json:"freelancerId"`
	Title        string  `json:"title"`
	Budget       float64 `json:"budget"`
	Status       string  `json:"status"`
	CreatedAt    string  `json:"createdAt"`
}

type agreementResponse struct {
	ID           string  `json:"id"`
	ProjectID    string  `json:"projectId"`
	ClientID     string  `json:"clientId"`
	FreelancerID string  `json:"freelancerId"`
	Amount       float64 `json:"amount"`
	Status       string  `json:"status"`
	SignedAt     string  `json:"signedAt,omitempty"`
}

type escrowResponse struct {
	ID             string   `json:"id"`
	ProjectID      string   `json:"projectId"`
	Amount         float64  `json:"amount"`
	OriginalAmount float64  `json:"originalAmount"`
	AdjustedAmount *float64 `json:"adjustedAmount,omitempty"`
	RefundedAmount float64  `json:"refundedAmount"`
	Status         string   `json:"status"`
}

type adjustmentResponse struct {
	ID             int64   `json:"id"`
	PreviousAmount float64 `json:"previousAmount"`
	NewAmount      float64 `json:"newAmount"`
	RefundAmount   float64 `json:"refundAmount"`
	Reason         string  `json:"reason"`
	CreatedAt      string  `json:"createdAt"`
}

type transactionResponse struct {
	ID        int64   `json:"id"`
	Type      string  `json:"type"`
	Amount    float64 `json:"amount"`
	Status    string  `json:"status"`
	CreatedAt string  `json:"createdAt"`
}

type milestoneResponse struct {
	ID             string                   `json:"id"`
	AgreementID    string                   `json:"agreementId"`
	Number         int                      `json:"number"`
	Title          string                   `json:"title"`
	Amount         float64                  `json:"amount"`
	DueDate        string                   `json:"dueDate"`
	SLADeadline    string                   `json:"slaDeadline"`
	Status         string                   `json:"status"`
	RevisionCount  int                      `json:"revisionCount"`
	MaxRevisions   int                      `json:"maxRevisions"`
	DaysLate       int                      `json:"daysLate"`
	DaysEarly      int                      `json:"daysEarly"`
	PenaltyAmount  float64                  `json:"penaltyAmount"`
	BonusAmount    float64                  `json:"bonusAmount"`
	FinalAmount    float64                  `json:"finalAmount"`
	Deliverables   []milestone.Deliverable  `json:"deliverables"`
	RevisionNotes  []milestone.RevisionNote `json:"revisionNotes"`
	DisputeID      *string                  `json:"disputeId,omitempty"`
	SubmittedAt    string                   `json:"submittedAt,omitempty"`
	AutoReleaseAt  string                   `json:"autoReleaseAt,omitempty"`
	ReleasedAt     string                   `json:"releasedAt,omitempty"`
}

type disputeResponse struct {
	ID             string                `json:"id"`
	Number         string                `json:"number"`
	ProjectID      string                `json:"projectId"`
	MilestoneID    *string               `json:"milestoneId,omitempty"`
	FiledBy        string                `json:"filedBy"`
	Category       string                `json:"category"`
	Reason         string                `json:"reason"`
	Amount         float64               `json:"amount"`
	ArbitrationFee float64               `json:"arbitrationFee"`
	FeePaid        bool                  `json:"feePaid"`
	Status         string                `json:"status"`
	Evidence       []dispute.Evidence    `json:"evidence"`
	Messages       []dispute.Message     `json:"messages"`
	Resolution     *dispute.Resolution   `json:"resolution,omitempty"`
	RespondBy      string                `json:"respondBy,omitempty"`
	AppealBy       string                `json:"appealBy,omitempty"`
	CreatedAt      string                `json:"createdAt"`
}

func toProjectResponse(p project.Project) projectResponse {
	return projectResponse{
		ID:           p.ID,
		ClientID:     p.ClientID,
		FreelancerID: p.FreelancerID,
		Title:        p.Title,
		Budget:       p.Budget,
		Status:       string(p.Status),
		CreatedAt:    p.CreatedAt.Format(time.RFC3339),
	}
}

func toAgreementResponse(a project.Agreement) agreementResponse {
	return agreementResponse{
		ID:           a.ID,
		ProjectID:    a.ProjectID,
		ClientID:     a.ClientID,
		FreelancerID: a.FreelancerID,
		Amount:       a.Amount,
		Status:       string(a.Status),
		SignedAt:     formatOptTime(a.SignedAt),
	}
}

func toEscrowResponse(e escrow.Escrow) escrowResponse {
	return escrowResponse{
		ID:             e.ID,
		ProjectID:      e.ProjectID,
		Amount:         e.Amount,
		OriginalAmount: e.OriginalAmount,
		AdjustedAmount: e.AdjustedAmount,
		RefundedAmount: e.RefundedAmount,
		Status:         string(e.Status),
	}
}

func toMilestoneResponse(m milestone.Milestone) milestoneResponse {
	return milestoneResponse{
		ID:            m.ID,
		AgreementID:   m.AgreementID,
		Number:        m.Number,
		Title:         m.Title,
		Amount:        m.Amount,
		DueDate:       m.DueDate.Format(time.RFC3339),
		SLADeadline:   m.SLADeadline.Format(time.RFC3339),
		Status:        string(m.Status),
		RevisionCount: m.RevisionCount,
		MaxRevisions:  m.MaxRevisions,
		DaysLate:      m.DaysLate,
		DaysEarly:     m.DaysEarly,
		PenaltyAmount: m.PenaltyAmount,
		BonusAmount:   m.BonusAmount,
		FinalAmount:   m.FinalAmount,
		Deliverables:  m.Deliverables,
		RevisionNotes: m.RevisionNotes,
		DisputeID:     m.DisputeID,
		SubmittedAt:   formatOptTime(m.SubmittedAt),
		AutoReleaseAt: formatOptTime(m.AutoReleaseAt),
		ReleasedAt:    formatOptTime(m.ReleasedAt),
	}
}

func toDisputeResponse(d dispute.Dispute) disputeResponse {
	return disputeResponse{
		ID:             d.ID,
		Number:         d.Number,
		ProjectID:      d.ProjectID,
		MilestoneID:    d.MilestoneID,
		FiledBy:        d.FiledBy,
		Category:       string(d.Category),
		Reason:         d.Reason,
		Amount:         d.Amount,
		ArbitrationFee: d.ArbitrationFee,
		FeePaid:        d.FeePaid,
		Status:         string(d.Status),
		Evidence:       d.Evidence,
		Messages:       d.Messages,
		Resolution:     d.Resolution,
		RespondBy:      formatOptTime(d.RespondBy),
		AppealBy:       formatOptTime(d.AppealBy),
		CreatedAt:      d.CreatedAt.Format(time.RFC3339),
	}
}

func formatOptTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
