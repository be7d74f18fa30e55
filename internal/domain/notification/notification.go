package notification

import "context"

// TargetType scopes who receives an event.
type TargetType string

const TargetAccount TargetType = "ACCOUNT"

// EventType names a dispatched event.
type EventType string

const EventVideoProcessingEnd EventType = "VIDEOPROCESSING_END"

// Target identifies the recipients of an event.
type Target struct {
	Type  TargetType `json:"type"`
	Value string     `json:"value"`
}

// AccountTarget scopes an event to one account.
func AccountTarget(accountID string) Target {
	return Target{Type: TargetAccount, Value: accountID}
}

// Dispatcher delivers events to other systems. Dispatch is fire-and-forget: failures are logged
// by the implementation and never reach the caller.
type Dispatcher interface {
	Dispatch(ctx context.Context, target Target, event EventType, payload map[string]any)
}

// Noop drops every event. Used when no broker is configured.
type Noop struct{}

func (Noop) Dispatch(context.Context, Target, EventType, map[string]any) {}
