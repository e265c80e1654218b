package providers

import (
	"context"
	"fmt"
	"time"
)

// SimulatedTokens is the fixed token count reported by SimulatedAdapter
const SimulatedTokens = 25

// SimulatedAdapter answers without calling out. It stands in for
// providers that have no credentials or no client in this build.
type SimulatedAdapter struct {
	name  string
	delay time.Duration
}

// NewSimulatedAdapter creates a simulated adapter that waits delay before answering
func NewSimulatedAdapter(name string, delay time.Duration) *SimulatedAdapter {
	return &SimulatedAdapter{name: name, delay: delay}
}

// Name returns the provider name
func (a *SimulatedAdapter) Name() string {
	return a.name
}

// Complete returns the canned simulation response
func (a *SimulatedAdapter) Complete(ctx context.Context, req *ChatRequest) (*Completion, error) {
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &Completion{
		Text:   fmt.Sprintf("[SIMULATION] Response from %s. \n\n(Note: live inference is not configured for this provider.)", a.name),
		Tokens: SimulatedTokens,
		Model:  req.Model,
	}, nil
}
