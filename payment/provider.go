// Package payment defines the boundary to the external payment provider. The
// settlement core never moves real-world money itself; it records intents and
// correlates provider references.
package payment

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrCaptureFailed = errors.New("payment: capture failed")

// Provider captures and refunds real-world money against a payment reference.
type Provider interface {
	Capture(ctx context.Context, paymentRef string, amount float64) (string, error)
	Refund(ctx context.Context, paymentRef string, amount float64) (string, error)
}

// LogProvider acknowledges every capture and refund with a synthetic
// reference. Stands in for the real gateway in development.
type LogProvider struct {
	Log zerolog.Logger
}

func (p LogProvider) Capture(_ context.Context, paymentRef string, amount float64) (string, error) {
	ref := fmt.Sprintf("cap_%s", uuid.NewString())
	p.Log.Info().Str("payment_ref", paymentRef).Float64("amount", amount).Str("capture_ref", ref).Msg("capture")
	return ref, nil
}

func (p LogProvider) Refund(_ context.Context, paymentRef string, amount float64) (string, error) {
	ref := fmt.Sprintf("ref_%s", uuid.NewString())
	p.Log.Info().Str("payment_ref", paymentRef).Float64("amount", amount).Str("refund_ref", ref).Msg("refund")
	return ref, nil
}

// Commission is the platform's cut: whatever the payer was charged beyond the
// project budget. Provider-side fees are the provider's problem.
func Commission(paymentAmount, projectBudget float64) float64 {
	c := math.Round((paymentAmount-projectBudget)*100) / 100
	if c < 0 {
		return 0
	}
	return c
}
