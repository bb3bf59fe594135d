package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// MockChannel is a configurable stand-in for the real messenger transport,
// used in tests and by the mock channel kind in config for dry wiring.
type MockChannel struct {
	logger *slog.Logger

	FailFor        map[string]bool // recipients whose delivery is refused
	PanicFor       map[string]bool // recipients whose delivery panics
	SimulatedDelay time.Duration

	mu         sync.Mutex
	deliveries []string
}

func NewMockChannel(logger *slog.Logger) *MockChannel {
	return &MockChannel{
		logger:  logger.With("channel", "mock"),
		FailFor: map[string]bool{},
	}
}

func (c *MockChannel) Deliver(ctx context.Context, recipient, body string) (*DeliveryResult, error) {
	if c.SimulatedDelay > 0 {
		select {
		case <-time.After(c.SimulatedDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	c.deliveries = append(c.deliveries, recipient)
	c.mu.Unlock()

	if c.PanicFor[recipient] {
		panic(fmt.Sprintf("mock channel panic for %s", recipient))
	}
	if c.FailFor[recipient] {
		c.logger.InfoContext(ctx, "Mock delivery refused", "recipient", recipient)
		return &DeliveryResult{Accepted: false, Detail: "MOCK_REFUSED"}, nil
	}

	c.logger.InfoContext(ctx, "Mock delivery accepted", "recipient", recipient, "body_len", len(body))
	return &DeliveryResult{Accepted: true, Detail: "MOCK_OK"}, nil
}

// Deliveries returns the recipients delivered to, in order.
func (c *MockChannel) Deliveries() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.deliveries))
	copy(out, c.deliveries)
	return out
}

func (c *MockChannel) Name() string {
	return "mock"
}
