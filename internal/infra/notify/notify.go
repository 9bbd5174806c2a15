package notify

import "context"

// Message is what reviewers see when an escalation fires.
type Message struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	Token  string `json:"token,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Notifier delivers escalation alerts to a human reviewer. Delivery is
// fire-and-forget: a failed notification must never fail the escalation
// itself, so implementations log and swallow their own errors.
type Notifier interface {
	Notify(ctx context.Context, msg Message)
}

// Noop discards all notifications.
type Noop struct{}

func (Noop) Notify(ctx context.Context, msg Message) {}
