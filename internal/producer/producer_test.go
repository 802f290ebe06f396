package producer

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/npezzotti/go-chatstream/internal/config"
	"github.com/npezzotti/go-chatstream/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockChatModel struct {
	mock.Mock
}

func (m *mockChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	args := m.Called(input)
	if msg, ok := args.Get(0).(*schema.Message); ok {
		return msg, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func TestEchoProducer(t *testing.T) {
	p := NewEchoProducer()

	t.Run("first turn", func(t *testing.T) {
		out, err := p.Generate(context.Background(), types.Message{Content: "Hello"}, nil)
		assert.NoError(t, err)
		assert.Equal(t, "Hi! You said: Hello", out)
	})

	t.Run("counts earlier user turns", func(t *testing.T) {
		history := []types.Message{
			{Role: types.RoleUser, Content: "one"},
			{Role: types.RoleAssistant, Content: "reply"},
		}
		out, err := p.Generate(context.Background(), types.Message{Content: "two"}, history)
		assert.NoError(t, err)
		assert.Contains(t, out, "2 messages")
	})

	t.Run("empty prompt", func(t *testing.T) {
		_, err := p.Generate(context.Background(), types.Message{Content: "  "}, nil)
		assert.Error(t, err)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := p.Generate(ctx, types.Message{Content: "Hello"}, nil)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestArkProducer_Generate(t *testing.T) {
	history := []types.Message{
		{Role: types.RoleUser, Content: "hi"},
		{Role: types.RoleAssistant, Content: "hello there"},
	}

	t.Run("maps history to chat messages", func(t *testing.T) {
		cm := &mockChatModel{}
		defer cm.AssertExpectations(t)

		cm.On("Generate", mock.MatchedBy(func(in []*schema.Message) bool {
			return len(in) == 4 &&
				in[0].Role == schema.System && in[0].Content == "be brief" &&
				in[1].Role == schema.User && in[1].Content == "hi" &&
				in[2].Role == schema.Assistant && in[2].Content == "hello there" &&
				in[3].Role == schema.User && in[3].Content == "how are you?"
		})).Return(schema.AssistantMessage("fine, thanks", nil), nil).Once()

		p := NewModelProducer(cm, "be brief")
		out, err := p.Generate(context.Background(), types.Message{Content: "how are you?"}, history)
		assert.NoError(t, err)
		assert.Equal(t, "fine, thanks", out)
	})

	t.Run("model error", func(t *testing.T) {
		cm := &mockChatModel{}
		cm.On("Generate", mock.Anything).Return(nil, errors.New("upstream down")).Once()

		p := NewModelProducer(cm, "")
		_, err := p.Generate(context.Background(), types.Message{Content: "hi"}, nil)
		assert.ErrorContains(t, err, "upstream down")
		assert.Equal(t, defaultSystemPrompt, p.systemPrompt, "expected default system prompt")
	})
}

func TestNewArkProducer_NotConfigured(t *testing.T) {
	_, err := NewArkProducer(context.Background(), config.ProducerConfig{})
	assert.Error(t, err, "expected error without model configuration")
}

func TestFunc(t *testing.T) {
	var p Producer = Func(func(ctx context.Context, prior types.Message, history []types.Message) (string, error) {
		return prior.Content + "!", nil
	})
	out, err := p.Generate(context.Background(), types.Message{Content: "hey"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, "hey!", out)
}
