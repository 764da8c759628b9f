package milestone

import "time"

// Status represents the lifecycle of a milestone record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSubmitted  Status = "submitted"
	StatusRevision   Status = "revision"
	StatusDisputed   Status = "disputed"
	StatusConfirmed  Status = "confirmed"
	StatusReleased   Status = "released"
	StatusCancelled  Status = "cancelled"
)

// transitions is the closed set of legal status moves. Cancellation from any
// non-terminal status is handled separately in CanTransition.
var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusSubmitted},
	StatusInProgress: {StatusSubmitted},
	StatusSubmitted:  {StatusConfirmed, StatusRevision, StatusDisputed, StatusReleased},
	StatusRevision:   {StatusSubmitted, StatusDisputed},
	StatusConfirmed:  {StatusReleased, StatusDisputed},
	StatusDisputed:   {StatusReleased, StatusCancelled},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	if to == StatusCancelled {
		return from != StatusReleased && from != StatusCancelled
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusCancelled
}

// Deliverable is one submitted artifact reference.
type Deliverable struct {
	URL         string    `json:"url"`
	Note        string    `json:"note,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// RevisionNote records one revision request from the client.
type RevisionNote struct {
	Note        string    `json:"note"`
	RequestedBy string    `json:"requested_by"`
	RequestedAt time.Time `json:"requested_at"`
}

// Milestone mirrors the milestones table.
type Milestone struct {
	ID                    string
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
	RevisionCount         int
	MaxRevisions          int
	Status                Status
	DaysLate              int
	DaysEarly             int
	PenaltyAmount         float64
	BonusAmount           float64
	FinalAmount           float64
	Deliverables          []Deliverable
	RevisionNotes         []RevisionNote
	DisputeID             *string
	SubmittedAt           *time.Time
	AutoReleaseAt         *time.Time
	ReleasedAt            *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// ShouldAutoRelease reports whether the silence window has elapsed for a
// submitted milestone. The sweep re-checks status inside its own transaction;
// this predicate only mirrors the query it issues.
func ShouldAutoRelease(m Milestone, now time.Time) bool {
	return m.Status == StatusSubmitted && m.AutoReleaseAt != nil && !now.Before(*m.AutoReleaseAt)
}
