package producer

import (
	"context"
	"fmt"
	"strings"

	"github.com/npezzotti/go-chatstream/internal/types"
)

// Producer generates the full response text for a user message. history
// holds the earlier turns of the room, oldest first, and does not include
// prior. Implementations should honor ctx cancellation.
type Producer interface {
	Generate(ctx context.Context, prior types.Message, history []types.Message) (string, error)
}

// Func adapts a plain function to Producer.
type Func func(ctx context.Context, prior types.Message, history []types.Message) (string, error)

func (f Func) Generate(ctx context.Context, prior types.Message, history []types.Message) (string, error) {
	return f(ctx, prior, history)
}

// EchoProducer answers deterministically without a model. It is the
// fallback when no chat model is configured.
type EchoProducer struct{}

func NewEchoProducer() *EchoProducer {
	return &EchoProducer{}
}

func (EchoProducer) Generate(ctx context.Context, prior types.Message, history []types.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	content := strings.TrimSpace(prior.Content)
	if content == "" {
		return "", fmt.Errorf("empty prompt")
	}

	turns := 0
	for _, m := range history {
		if m.Role == types.RoleUser {
			turns++
		}
	}

	if turns == 0 {
		return fmt.Sprintf("Hi! You said: %s", content), nil
	}
	return fmt.Sprintf("You said: %s (that makes %d messages from you so far)", content, turns+1), nil
}
