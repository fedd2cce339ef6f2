package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Gemini implements Adapter against Google's Gemini API with native
// incremental streaming.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini-backed adapter. The context is only used for
// client construction.
func NewGemini(ctx context.Context, cfg Config) (*Gemini, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: missing API key (set GEMINI_API_KEY or provide in config)", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: missing model name", ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{client: client, model: cfg.Model}, nil
}

// Close releases the underlying client.
func (g *Gemini) Close() error { return g.client.Close() }

// Name returns the adapter identifier.
func (g *Gemini) Name() string { return "gemini" }

// Supports reports text-only capability.
func (g *Gemini) Supports(m Modality) bool { return m == ModalityText }

// Generate sends the request and returns the full completion.
func (g *Gemini) Generate(ctx context.Context, req Request) (*Result, error) {
	chat, last, err := g.chat(req)
	if err != nil {
		return nil, err
	}

	resp, err := chat.SendMessage(ctx, genai.Text(last))
	if err != nil {
		return nil, g.wrapError(err)
	}

	content := responseText(resp)
	if content == "" {
		return nil, newError(g.Name(), 0, "empty completion", nil)
	}
	return &Result{
		Content:      content,
		FinishReason: finishReason(resp),
		Usage:        usageFrom(resp),
	}, nil
}

// GenerateStream sends the request and forwards each response fragment to
// onChunk as it arrives.
func (g *Gemini) GenerateStream(ctx context.Context, req Request, onChunk func(string)) (*Result, error) {
	chat, last, err := g.chat(req)
	if err != nil {
		return nil, err
	}

	it := chat.SendMessageStream(ctx, genai.Text(last))

	var b strings.Builder
	var final *genai.GenerateContentResponse
	for {
		resp, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, g.wrapError(err)
		}
		if piece := responseText(resp); piece != "" {
			b.WriteString(piece)
			onChunk(piece)
		}
		final = resp
	}
	if b.Len() == 0 {
		return nil, newError(g.Name(), 0, "empty completion", nil)
	}

	res := &Result{Content: b.String()}
	if final != nil {
		res.FinishReason = finishReason(final)
		res.Usage = usageFrom(final)
	}
	return res, nil
}

// chat assembles a chat session with the conversation history and returns it
// together with the final user message to send.
func (g *Gemini) chat(req Request) (*genai.ChatSession, string, error) {
	if len(req.Messages) == 0 {
		return nil, "", fmt.Errorf("%w: request has no messages", ErrInvalidConfig)
	}

	model := g.client.GenerativeModel(g.model)
	if req.Temperature > 0 {
		model.SetTemperature(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if len(req.Stop) > 0 {
		model.StopSequences = req.Stop
	}
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}

	chat := model.StartChat()
	history := req.Messages[:len(req.Messages)-1]
	for _, m := range history {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		chat.History = append(chat.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}
	return chat, req.Messages[len(req.Messages)-1].Content, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String()
}

func finishReason(resp *genai.GenerateContentResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	return strings.ToLower(resp.Candidates[0].FinishReason.String())
}

func usageFrom(resp *genai.GenerateContentResponse) *Usage {
	if resp.UsageMetadata == nil {
		return nil
	}
	return &Usage{
		PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
		CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
	}
}

func (g *Gemini) wrapError(err error) error {
	var apierr *googleapi.Error
	if errors.As(err, &apierr) {
		return newError(g.Name(), apierr.Code, apierr.Message, err)
	}
	return newError(g.Name(), 0, err.Error(), err)
}
