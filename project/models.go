package project

import "time"

// Status represents the lifecycle of a project record.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusDisputed   Status = "disputed"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

var projectTransitions = map[Status][]Status{
	StatusOpen:       {StatusInProgress, StatusDisputed, StatusCancelled},
	StatusInProgress: {StatusDisputed, StatusCompleted, StatusCancelled},
	StatusDisputed:   {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether a project status move is legal.
func CanTransition(from, to Status) bool {
	for _, next := range projectTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AgreementStatus represents the lifecycle of an agreement record.
type AgreementStatus string

const (
	AgreementDraft     AgreementStatus = "draft"
	AgreementActive    AgreementStatus = "active"
	AgreementCompleted AgreementStatus = "completed"
	AgreementCancelled AgreementStatus = "cancelled"
)

var agreementTransitions = map[AgreementStatus][]AgreementStatus{
	AgreementDraft:  {AgreementActive, AgreementCancelled},
	AgreementActive: {AgreementCompleted, AgreementCancelled},
}

// CanTransitionAgreement reports whether an agreement status move is legal.
func CanTransitionAgreement(from, to AgreementStatus) bool {
	for _, next := range agreementTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Project mirrors the projects table columns touched by the settlement core.
type Project struct {
	ID           string
	ClientID     string
	FreelancerID string
	Title        string
	Budget       float64
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Agreement mirrors the agreements table. One active agreement binds the two
// parties for a project; milestones hang off it.
type Agreement struct {
	ID           string
	ProjectID    string
	ClientID     string
	FreelancerID string
	Amount       float64
	Status       AgreementStatus
	SignedAt     *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
