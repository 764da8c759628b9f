package milestone

import (
	"math"
	"time"
)

// ScoreInput carries the fields of a milestone that determine its payout.
type ScoreInput struct {
	SubmittedAt    time.Time
	DueDate        time.Time
	SLADeadline    time.Time
	Amount         float64
	PenaltyPercent float64
	BonusPercent   float64
	MaxPenaltyCap  float64
}

// Score is the frozen outcome of scoring one submission.
type Score struct {
	DaysLate      int
	DaysEarly     int
	PenaltyAmount float64
	BonusAmount   float64
	FinalAmount   float64
}

// ComputeScore derives lateness, earliness and the final payable amount for a
// submission. Penalty and bonus are mutually exclusive: a submission is either
// past the SLA deadline or ahead of the due date, never both. Submissions that
// land exactly on a boundary earn neither.
func ComputeScore(in ScoreInput) Score {
	var sc Score

	if in.SubmittedAt.After(in.SLADeadline) {
		late := in.SubmittedAt.Sub(in.SLADeadline)
		sc.DaysLate = int(math.Ceil(late.Hours() / 24))
		pct := in.PenaltyPercent * float64(sc.DaysLate)
		if pct > in.MaxPenaltyCap {
			pct = in.MaxPenaltyCap
		}
		sc.PenaltyAmount = round2(in.Amount * pct / 100)
	} else if in.SubmittedAt.Before(in.DueDate) {
		early := in.DueDate.Sub(in.SubmittedAt)
		sc.DaysEarly = int(math.Floor(early.Hours() / 24))
		if sc.DaysEarly > 0 {
			// Flat bonus, not scaled by how many days early.
			sc.BonusAmount = round2(in.Amount * in.BonusPercent / 100)
		}
	}

	switch {
	case sc.DaysEarly > 0:
		sc.FinalAmount = round2(in.Amount + sc.BonusAmount)
	case sc.DaysLate > 0:
		// The provider is guaranteed half the committed amount no matter
		// how late the submission lands.
		sc.FinalAmount = round2(math.Max(in.Amount-sc.PenaltyAmount, in.Amount*0.5))
	default:
		sc.FinalAmount = in.Amount
	}

	return sc
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
