package dispute

import "time"

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusPendingPayment   Status = "pending_payment"
	StatusOpen             Status = "open"
	StatusUnderReview      Status = "under_review"
	StatusAwaitingResponse Status = "awaiting_response"
	StatusResolved         Status = "resolved"
	StatusWithdrawn        Status = "withdrawn"
	StatusEscalated        Status = "escalated"
)

// transitions is the closed set of legal status moves. Resolved is terminal
// and immutable; withdrawal is open to the filer at any pre-resolution point.
var transitions = map[Status][]Status{
	StatusPendingPayment:   {StatusOpen, StatusWithdrawn},
	StatusOpen:             {StatusUnderReview, StatusResolved, StatusWithdrawn},
	StatusUnderReview:      {StatusAwaitingResponse, StatusResolved, StatusEscalated, StatusWithdrawn},
	StatusAwaitingResponse: {StatusUnderReview, StatusResolved, StatusEscalated, StatusWithdrawn},
	StatusEscalated:        {StatusResolved},
}

// CanTransition reports whether a dispute status move is legal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Open reports whether the dispute still counts against the one-open-dispute
// limit for its project.
func (s Status) Open() bool {
	return s != StatusResolved && s != StatusWithdrawn
}

// Category classifies the claim being made.
type Category string

const (
	CategoryQuality     Category = "quality"
	CategoryNonDelivery Category = "non_delivery"
	CategoryPayment     Category = "payment"
	CategoryScope       Category = "scope"
	CategoryOther       Category = "other"
)

// Decision is the binding outcome of arbitration.
type Decision string

const (
	DecisionClientFavor     Decision = "client_favor"
	DecisionFreelancerFavor Decision = "freelancer_favor"
	DecisionSplit           Decision = "split"
	DecisionDismissed       Decision = "dismissed"
)

func validDecision(d Decision) bool {
	switch d {
	case DecisionClientFavor, DecisionFreelancerFavor, DecisionSplit, DecisionDismissed:
		return true
	default:
		return false
	}
}

// Evidence is one artifact attached to the claim.
type Evidence struct {
	URL         string    `json:"url"`
	Description string    `json:"description,omitempty"`
	SubmittedBy string    `json:"submitted_by"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Message is one entry in the dispute's chat log.
type Message struct {
	AuthorID string    `json:"author_id"`
	Body     string    `json:"body"`
	SentAt   time.Time `json:"sent_at"`
}

// AdminAction is one entry in the dispute's administrative audit trail.
type AdminAction struct {
	AdminID string    `json:"admin_id"`
	Action  string    `json:"action"`
	Note    string    `json:"note,omitempty"`
	At      time.Time `json:"at"`
}

// Resolution is the binding settlement record, written exactly once.
type Resolution struct {
	Decision      Decision  `json:"decision"`
	AwardedTo     string    `json:"awarded_to,omitempty"`
	AwardedAmount float64   `json:"awarded_amount"`
	RefundAmount  float64   `json:"refund_amount"`
	Penalized     bool      `json:"penalized"`
	Reasoning     string    `json:"reasoning"`
	ResolvedBy    string    `json:"resolved_by"`
	ResolvedAt    time.Time `json:"resolved_at"`
}

// Dispute mirrors the disputes table.
type Dispute struct {
	ID             string
	Number         string
	ProjectID      string
	MilestoneID    *string
	FiledBy        string
	Category       Category
	Reason         string
	Amount         float64
	ArbitrationFee float64
	FeePaid        bool
	Status         Status
	Evidence       []Evidence
	Messages       []Message
	AdminActions   []AdminAction
	Resolution     *Resolution
	RespondBy      *time.Time
	AppealBy       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ResolvedAt     *time.Time
}
