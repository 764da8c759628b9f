package escrow

import "time"

// Status represents the lifecycle of a held-funds account.
type Status string

const (
	StatusFunded        Status = "funded"
	StatusAdjusted      Status = "adjusted"
	StatusPartialRefund Status = "partial_refund"
	StatusReleased      Status = "released"
	StatusRefunded      Status = "refunded"
)

// Terminal reports whether the escrow can hold no further fund movements.
func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusRefunded
}

// Escrow mirrors the escrows table. Amount is the money currently held;
// OriginalAmount is fixed at funding time and bounds all later movement:
// amount + refunded_amount never exceeds it.
type Escrow struct {
	ID             string
	ProjectID      string
	Amount         float64
	OriginalAmount float64
	AdjustedAmount *float64
	RefundedAmount float64
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Adjustment is one entry in an escrow's append-only history. Every mutation
// of the held amount writes exactly one of these.
type Adjustment struct {
	ID             int64
	EscrowID       string
	PreviousAmount float64
	NewAmount      float64
	RefundAmount   float64
	Reason         string
	CreatedAt      time.Time
}
