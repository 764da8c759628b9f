// Package oracles defines SQL invariant checks run repeatedly against a live
// database while the stress actors hammer it. Each oracle query must return
// zero rows; any row is a counterexample.
package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_escrow_nonnegative",
			SQL: `SELECT id, amount, refunded_amount FROM escrows
                  WHERE amount < 0 OR refunded_amount < 0`,
		},
		{
			Name: "O2_escrow_within_original",
			SQL: `SELECT id, amount, refunded_amount, original_amount FROM escrows
                  WHERE amount + refunded_amount > original_amount + 0.01`,
		},
		{
			Name: "O3_ledger_conservation",
			SQL: `SELECT e.id, e.original_amount, SUM(t.amount) AS moved
                  FROM escrows e
                  JOIN transactions t ON t.escrow_id = e.id
                  WHERE t.tx_type IN ('release','dispute_award','dispute_refund','refund')
                    AND t.status = 'completed'
                  GROUP BY e.id, e.original_amount
                  HAVING SUM(t.amount) > e.original_amount + 0.01`,
		},
		{
			Name: "O4_one_live_dispute",
			SQL: `SELECT project_id, COUNT(*) FROM disputes
                  WHERE status NOT IN ('resolved','withdrawn')
                  GROUP BY project_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O5_resolution_recorded",
			SQL: `SELECT id, status FROM disputes
                  WHERE status = 'resolved'
                    AND (resolution IS NULL OR resolved_at IS NULL)`,
		},
		{
			Name: "O6_terminal_escrow_drained",
			SQL: `SELECT id, status, amount FROM escrows
                  WHERE status IN ('released','refunded') AND amount > 0.009`,
		},
		{
			Name: "O7_split_conserves_pool",
			SQL: `SELECT d.id,
                         (d.resolution->>'awarded_amount')::numeric AS awarded,
                         (d.resolution->>'refund_amount')::numeric AS refunded,
                         e.original_amount
                  FROM disputes d
                  JOIN escrows e ON e.project_id = d.project_id
                  WHERE d.status = 'resolved' AND d.resolution IS NOT NULL
                    AND (d.resolution->>'awarded_amount')::numeric
                      + (d.resolution->>'refund_amount')::numeric > e.original_amount + 0.01`,
		},
		{
			Name: "O8_milestone_numbers_unique",
			SQL: `SELECT agreement_id, milestone_number, COUNT(*) FROM milestones
                  GROUP BY agreement_id, milestone_number HAVING COUNT(*) > 1`,
		},
		{
			Name: "O9_released_milestone_paid",
			SQL: `SELECT id, status, final_amount FROM milestones
                  WHERE status = 'released' AND (final_amount IS NULL OR final_amount <= 0)`,
		},
		{
			Name: "O10_adjustment_chain_links",
			SQL: `WITH chain AS (
                      SELECT escrow_id, previous_amount, new_amount,
                             LAG(new_amount) OVER (PARTITION BY escrow_id ORDER BY id) AS prev_new
                      FROM escrow_adjustments)
                  SELECT * FROM chain
                  WHERE prev_new IS NOT NULL AND ABS(previous_amount - prev_new) > 0.009`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
