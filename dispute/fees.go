package dispute

// Arbitration fee tiers, keyed by the amount in dispute. The fee is fixed at
// filing time and never recalculated, even if the disputed amount is amended.
var feeTiers = []struct {
	upTo float64
	fee  float64
}{
	{1000, 25},
	{5000, 50},
	{20000, 100},
}

const feeTopTier = 250.0

// ArbitrationFee returns the filing fee owed for a given amount in dispute.
func ArbitrationFee(amount float64) float64 {
	for _, t := range feeTiers {
		if amount <= t.upTo {
			return t.fee
		}
	}
	return feeTopTier
}
