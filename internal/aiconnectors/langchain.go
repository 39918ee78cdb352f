package aiconnectors

import (
	"context"
	"errors"

	"github.com/tmc/langchaingo/llms"

	"github.com/mcpharvest/internal/llm"
)

// usageKeys names the GenerationInfo entries a langchaingo backend reports token counts under.
type usageKeys struct {
	input  string
	output string
}

// LangchainModel adapts a langchaingo model to llm.Model.
type LangchainModel struct {
	name  string
	model string
	llm   llms.Model
	keys  usageKeys
}

// Name returns the provider name.
func (m *LangchainModel) Name() string {
	return m.name
}

// Complete sends req.Prompt as a single human message.
func (m *LangchainModel) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	model := req.Model
	if model == "" {
		model = m.model
	}

	opts := []llms.CallOption{
		llms.WithModel(model),
		llms.WithTemperature(req.Temperature),
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}

	resp, err := m.llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt),
	}, opts...)
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errors.New("empty response from model")
	}

	choice := resp.Choices[0]
	return &llm.Response{
		Content:      choice.Content,
		InputTokens:  intFromInfo(choice.GenerationInfo, m.keys.input),
		OutputTokens: intFromInfo(choice.GenerationInfo, m.keys.output),
		Model:        model,
	}, nil
}

func intFromInfo(info map[string]any, key string) int {
	if info == nil || key == "" {
		return 0
	}
	switch v := info[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
