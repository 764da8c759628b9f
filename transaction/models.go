package transaction

import "time"

// Type classifies a fund movement.
type Type string

const (
	TypeDeposit       Type = "deposit"
	TypeWithdrawal    Type = "withdrawal"
	TypeRelease       Type = "release"
	TypeRefund        Type = "refund"
	TypeCommission    Type = "commission"
	TypeDisputeAward  Type = "dispute_award"
	TypeDisputeRefund Type = "dispute_refund"
)

// Status is the settlement state of a movement.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSettled   Status = "settled"
	StatusOnHold    Status = "on_hold"
)

// Record is one immutable fact in the fund-movement log: this amount of this
// type moved in this state for this escrow. Rows are never updated.
type Record struct {
	ID          int64
	EscrowID    string
	Type        Type
	Amount      float64
	Status      Status
	ProviderRef *string
	CreatedAt   time.Time
}
