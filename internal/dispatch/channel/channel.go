package channel

import "context"

// DeliveryResult describes one delivery attempt as reported by the channel.
type DeliveryResult struct {
	Accepted bool   // the channel took the message
	Detail   string // channel-specific status text, for logs and history
}

// Channel delivers one rendered message body to a recipient. The call may
// take seconds: implementations drive external, possibly flaky transports
// (a messaging-client window, a webhook receiver). Delivery is best-effort;
// the engine treats a returned error or Accepted=false as a failure for that
// recipient and moves on.
type Channel interface {
	Deliver(ctx context.Context, recipient, body string) (*DeliveryResult, error)
	Name() string
}
