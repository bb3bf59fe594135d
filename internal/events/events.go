package events

import "context"

// Kind identifies a pipeline event.
type Kind string

const (
	KindSyncStarted     Kind = "sync.started"
	KindSyncCompleted   Kind = "sync.completed"
	KindSyncFailed      Kind = "sync.failed"
	KindFetchSlow       Kind = "fetch.slow"
	KindRunStarted      Kind = "run.started"
	KindRecipientSent   Kind = "recipient.sent"
	KindRecipientFailed Kind = "recipient.failed"
	KindRunCancelled    Kind = "run.cancelled"
	KindRunCompleted    Kind = "run.completed"
)

// Notifier receives structured pipeline events. Implementations must be safe
// for concurrent use and must not block the dispatch loop; delivery is
// best-effort and failures stay inside the notifier.
type Notifier interface {
	Notify(ctx context.Context, kind Kind, payload map[string]any)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, kind Kind, payload map[string]any) {}

// Fanout forwards every event to each wrapped notifier in order.
func Fanout(notifiers ...Notifier) Notifier {
	return fanout(notifiers)
}

type fanout []Notifier

func (f fanout) Notify(ctx context.Context, kind Kind, payload map[string]any) {
	for _, n := range f {
		n.Notify(ctx, kind, payload)
	}
}
