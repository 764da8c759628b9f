package milestone

import (
	"testing"
	"time"
)

var scoringBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestComputeScore_LatePenalty(t *testing.T) {
	// Two days past the SLA deadline at 5% per day on 1000.
	sc := ComputeScore(ScoreInput{
		SubmittedAt:    scoringBase.Add(48 * time.Hour),
		DueDate:        scoringBase.Add(-24 * time.Hour),
		SLADeadline:    scoringBase,
		Amount:         1000,
		PenaltyPercent: 5,
		MaxPenaltyCap:  25,
	})

	if sc.DaysLate != 2 {
		t.Fatalf("expected 2 days late, got %d", sc.DaysLate)
	}
	if sc.PenaltyAmount != 100 {
		t.Fatalf("expected penalty 100, got %.2f", sc.PenaltyAmount)
	}
	if sc.FinalAmount != 900 {
		t.Fatalf("expected final 900, got %.2f", sc.FinalAmount)
	}
}

func TestComputeScore_PartialDayRoundsUp(t *testing.T) {
	sc := ComputeScore(ScoreInput{
		SubmittedAt:    scoringBase.Add(25 * time.Hour),
		DueDate:        scoringBase.Add(-24 * time.Hour),
		SLADeadline:    scoringBase,
		Amount:         1000,
		PenaltyPercent: 5,
		MaxPenaltyCap:  25,
	})

	if sc.DaysLate != 2 {
		t.Fatalf("25 hours late must count as 2 days, got %d", sc.DaysLate)
	}
}

func TestComputeScore_PenaltyCap(t *testing.T) {
	// Ten days late at 5%/day would be 50%, capped at 25%.
	sc := ComputeScore(ScoreInput{
		SubmittedAt:    scoringBase.Add(240 * time.Hour),
		DueDate:        scoringBase.Add(-24 * time.Hour),
		SLADeadline:    scoringBase,
		Amount:         1000,
		PenaltyPercent: 5,
		MaxPenaltyCap:  25,
	})

	if sc.PenaltyAmount != 250 {
		t.Fatalf("expected capped penalty 250, got %.2f", sc.PenaltyAmount)
	}
	if sc.FinalAmount != 750 {
		t.Fatalf("expected final 750, got %.2f", sc.FinalAmount)
	}
}

func TestComputeScore_FloorAtHalf(t *testing.T) {
	// A 60% cap would push the payout below half; the floor holds it at 500.
	sc := ComputeScore(ScoreInput{
		SubmittedAt:    scoringBase.Add(20 * 24 * time.Hour),
		DueDate:        scoringBase.Add(-24 * time.Hour),
		SLADeadline:    scoringBase,
		Amount:         1000,
		PenaltyPercent: 5,
		MaxPenaltyCap:  60,
	})

	if sc.PenaltyAmount != 600 {
		t.Fatalf("expected penalty 600, got %.2f", sc.PenaltyAmount)
	}
	if sc.FinalAmount != 500 {
		t.Fatalf("expected floor at 500, got %.2f", sc.FinalAmount)
	}
}

func TestComputeScore_EarlyBonus(t *testing.T) {
	// Two full days early at a flat 3% on 1000.
	sc := ComputeScore(ScoreInput{
		SubmittedAt:  scoringBase,
		DueDate:      scoringBase.Add(48 * time.Hour),
		SLADeadline:  scoringBase.Add(72 * time.Hour),
		Amount:       1000,
		BonusPercent: 3,
	})

	if sc.DaysEarly != 2 {
		t.Fatalf("expected 2 days early, got %d", sc.DaysEarly)
	}
	if sc.BonusAmount != 30 {
		t.Fatalf("expected flat bonus 30, got %.2f", sc.BonusAmount)
	}
	if sc.FinalAmount != 1030 {
		t.Fatalf("expected final 1030, got %.2f", sc.FinalAmount)
	}
}

func TestComputeScore_UnderADayEarlyEarnsNothing(t *testing.T) {
	sc := ComputeScore(ScoreInput{
		SubmittedAt:  scoringBase,
		DueDate:      scoringBase.Add(23 * time.Hour),
		SLADeadline:  scoringBase.Add(48 * time.Hour),
		Amount:       1000,
		BonusPercent: 3,
	})

	if sc.DaysEarly != 0 {
		t.Fatalf("23 hours early must floor to 0 days, got %d", sc.DaysEarly)
	}
	if sc.BonusAmount != 0 {
		t.Fatalf("expected no bonus, got %.2f", sc.BonusAmount)
	}
	if sc.FinalAmount != 1000 {
		t.Fatalf("expected unchanged amount, got %.2f", sc.FinalAmount)
	}
}

func TestComputeScore_OnTimeBoundaries(t *testing.T) {
	// Landing exactly on the due date or the SLA deadline earns neither
	// bonus nor penalty.
	for _, submitted := range []time.Time{scoringBase, scoringBase.Add(24 * time.Hour)} {
		sc := ComputeScore(ScoreInput{
			SubmittedAt:    submitted,
			DueDate:        scoringBase,
			SLADeadline:    scoringBase.Add(24 * time.Hour),
			Amount:         1000,
			PenaltyPercent: 5,
			BonusPercent:   3,
			MaxPenaltyCap:  25,
		})

		if sc.DaysLate != 0 || sc.DaysEarly != 0 {
			t.Fatalf("boundary submission at %v scored late=%d early=%d", submitted, sc.DaysLate, sc.DaysEarly)
		}
		if sc.FinalAmount != 1000 {
			t.Fatalf("expected 1000 at boundary, got %.2f", sc.FinalAmount)
		}
	}
}

func TestComputeScore_RoundsToCents(t *testing.T) {
	sc := ComputeScore(ScoreInput{
		SubmittedAt:    scoringBase.Add(24 * time.Hour),
		DueDate:        scoringBase.Add(-24 * time.Hour),
		SLADeadline:    scoringBase,
		Amount:         333.33,
		PenaltyPercent: 5,
		MaxPenaltyCap:  25,
	})

	if sc.PenaltyAmount != 16.67 {
		t.Fatalf("expected penalty 16.67, got %.2f", sc.PenaltyAmount)
	}
	if sc.FinalAmount != 316.66 {
		t.Fatalf("expected final 316.66, got %.2f", sc.FinalAmount)
	}
}
