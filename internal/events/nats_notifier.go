package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/shipdesk/shipnotify/internal/platform/messagebroker"
)

const subjectPrefix = "shipnotify.events."

// NATSNotifier publishes events as JSON on shipnotify.events.<kind> so an
// operator UI or other consumers can follow sync and dispatch progress.
type NATSNotifier struct {
	client *messagebroker.NATSClient
	logger *slog.Logger
}

func NewNATSNotifier(client *messagebroker.NATSClient, logger *slog.Logger) *NATSNotifier {
	return &NATSNotifier{
		client: client,
		logger: logger.With("component", "nats_notifier"),
	}
}

type eventEnvelope struct {
	Kind       string         `json:"kind"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Notify publishes the event. Publish failures are logged and swallowed:
// event delivery is best-effort and must never stall a dispatch run.
func (n *NATSNotifier) Notify(ctx context.Context, kind Kind, payload map[string]any) {
	env := eventEnvelope{
		Kind:       string(kind),
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
	data, err := json.Marshal(env)
	if err != nil {
		n.logger.ErrorContext(ctx, "Failed to marshal event payload", "error", err, "kind", kind)
		return
	}
	if err := n.client.Publish(ctx, subjectPrefix+string(kind), data); err != nil {
		n.logger.ErrorContext(ctx, "Failed to publish event", "error", err, "kind", kind)
	}
}
