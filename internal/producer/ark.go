package producer

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/npezzotti/go-chatstream/internal/config"
	"github.com/npezzotti/go-chatstream/internal/types"
)

const defaultSystemPrompt = "You are a warm, concise conversational companion. Reply in plain text."

// ArkProducer generates responses with an eino chat model.
type ArkProducer struct {
	chatModel    model.BaseChatModel
	systemPrompt string
}

// NewArkProducer builds an Ark chat model from cfg.
func NewArkProducer(ctx context.Context, cfg config.ProducerConfig) (*ArkProducer, error) {
	if !cfg.Enabled() {
		return nil, errors.New("producer model or api key not configured")
	}

	cm, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL: cfg.BaseURL,
		Region:  cfg.Region,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}

	return NewModelProducer(cm, cfg.SystemPrompt), nil
}

// NewModelProducer wraps an existing chat model.
func NewModelProducer(cm model.BaseChatModel, systemPrompt string) *ArkProducer {
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}

	return &ArkProducer{
		chatModel:    cm,
		systemPrompt: systemPrompt,
	}
}

func (p *ArkProducer) Generate(ctx context.Context, prior types.Message, history []types.Message) (string, error) {
	resp, err := p.chatModel.Generate(ctx, p.buildMessages(prior, history))
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	if resp == nil {
		return "", errors.New("generate: empty response")
	}

	return resp.Content, nil
}

func (p *ArkProducer) buildMessages(prior types.Message, history []types.Message) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(history)+2)
	msgs = append(msgs, schema.SystemMessage(p.systemPrompt))

	for _, m := range history {
		switch m.Role {
		case types.RoleUser:
			msgs = append(msgs, schema.UserMessage(m.Content))
		case types.RoleAssistant:
			msgs = append(msgs, schema.AssistantMessage(m.Content, nil))
		}
	}

	return append(msgs, schema.UserMessage(prior.Content))
}
