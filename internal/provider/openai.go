package provider

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// ErrInvalidConfig indicates a misconfigured adapter (missing key or model).
var ErrInvalidConfig = errors.New("invalid provider configuration")

// Config holds common construction options for hosted-API adapters.
type Config struct {
	// APIKey authenticates with the backend. Falls back to the adapter's
	// conventional environment variable when empty.
	APIKey string

	// Model is the backend model identifier.
	Model string

	// BaseURL overrides the API endpoint, for OpenAI-compatible gateways.
	BaseURL string
}

// OpenAI implements Adapter against the OpenAI chat completions API with
// native incremental streaming.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI creates an OpenAI-backed adapter.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: missing API key (set OPENAI_API_KEY or provide in config)", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: missing model name", ErrInvalidConfig)
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
	}, nil
}

// Name returns the adapter identifier.
func (o *OpenAI) Name() string { return "openai" }

// Supports reports text-only capability.
func (o *OpenAI) Supports(m Modality) bool { return m == ModalityText }

// Generate sends the request and returns the full completion.
func (o *OpenAI) Generate(ctx context.Context, req Request) (*Result, error) {
	params, err := o.params(req)
	if err != nil {
		return nil, err
	}

	completion, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, o.wrapError(err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return nil, newError(o.Name(), 0, "empty completion", nil)
	}

	choice := completion.Choices[0]
	return &Result{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: &Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}, nil
}

// GenerateStream sends the request and forwards each delta to onChunk as it
// arrives. The concatenated deltas equal the returned content.
func (o *OpenAI) GenerateStream(ctx context.Context, req Request, onChunk func(string)) (*Result, error) {
	params, err := o.params(req)
	if err != nil {
		return nil, err
	}

	stream := o.client.Chat.Completions.NewStreaming(ctx, params)
	acc := openai.ChatCompletionAccumulator{}

	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			onChunk(chunk.Choices[0].Delta.Content)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, o.wrapError(err)
	}
	if len(acc.Choices) == 0 || acc.Choices[0].Message.Content == "" {
		return nil, newError(o.Name(), 0, "empty completion", nil)
	}

	choice := acc.Choices[0]
	return &Result{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: &Usage{
			PromptTokens:     int(acc.Usage.PromptTokens),
			CompletionTokens: int(acc.Usage.CompletionTokens),
			TotalTokens:      int(acc.Usage.TotalTokens),
		},
	}, nil
}

func (o *OpenAI) params(req Request) (openai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return openai.ChatCompletionNewParams{}, fmt.Errorf("%w: request has no messages", ErrInvalidConfig)
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(o.model),
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if len(req.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: req.Stop}
	}
	return params, nil
}

func (o *OpenAI) wrapError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return newError(o.Name(), apierr.StatusCode, apierr.Message, err)
	}
	return newError(o.Name(), 0, err.Error(), err)
}
