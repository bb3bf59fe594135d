package events

import (
	"context"
	"log/slog"
)

// SlogNotifier writes events to the structured log. It is the default
// notifier when no message broker is configured.
type SlogNotifier struct {
	logger *slog.Logger
}

func NewSlogNotifier(logger *slog.Logger) *SlogNotifier {
	return &SlogNotifier{logger: logger.With("component", "events")}
}

func (n *SlogNotifier) Notify(ctx context.Context, kind Kind, payload map[string]any) {
	attrs := make([]any, 0, len(payload)*2+2)
	attrs = append(attrs, "event", string(kind))
	for k, v := range payload {
		attrs = append(attrs, k, v)
	}
	n.logger.InfoContext(ctx, "Pipeline event", attrs...)
}
