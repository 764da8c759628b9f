// Package notify is the outbound notification boundary. Delivery is
// best-effort: failures are logged by callers and never propagated into the
// operation that triggered them.
package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// Kind selects the message template.
type Kind string

const (
	KindMilestoneSubmitted Kind = "milestone_submitted"
	KindMilestoneReleased  Kind = "milestone_released"
	KindRevisionRequested  Kind = "revision_requested"
	KindDisputeFiled       Kind = "dispute_filed"
	KindDisputeResolved    Kind = "dispute_resolved"
)

// Sender delivers one notification to one recipient.
type Sender interface {
	Notify(ctx context.Context, recipientEmail string, kind Kind, data map[string]any) error
}

// LogSender writes notifications to the log instead of delivering them. Used
// in development and as the default wiring until a mail provider is attached.
type LogSender struct {
	Log zerolog.Logger
}

func (s LogSender) Notify(_ context.Context, recipientEmail string, kind Kind, data map[string]any) error {
	s.Log.Info().
		Str("recipient", recipientEmail).
		Str("kind", string(kind)).
		Fields(data).
		Msg("notification")
	return nil
}
