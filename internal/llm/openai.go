package llm

import (
	"context"
	"errors"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/rs/zerolog"

	cerrors "github.com/crucible-dev/crucible/internal/errors"
)

const defaultModel = "gpt-4o-mini"

// OpenAIProvider implements Provider using the official openai-go SDK
// (chat completions).
type OpenAIProvider struct {
	model  string
	opts   []option.RequestOption
	logger zerolog.Logger
}

// OpenAIOption configures the provider.
type OpenAIOption func(*OpenAIProvider)

func WithModel(model string) OpenAIOption {
	return func(p *OpenAIProvider) { p.model = model }
}

func WithBaseURL(url string) OpenAIOption {
	return func(p *OpenAIProvider) {
		if url != "" {
			p.opts = append(p.opts, option.WithBaseURL(url))
		}
	}
}

func WithLogger(l zerolog.Logger) OpenAIOption {
	return func(p *OpenAIProvider) { p.logger = l }
}

// NewOpenAIProvider constructs a provider. The API key is required.
func NewOpenAIProvider(apiKey string, opts ...OpenAIOption) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}
	p := &OpenAIProvider{
		model:  defaultModel,
		opts:   []option.RequestOption{option.WithAPIKey(apiKey)},
		logger: zerolog.Nop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

func (p *OpenAIProvider) ModelID() string { return p.model }

// Complete sends a blocking chat-completion request.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	client := openai.NewClient(p.opts...)

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			msgs = append(msgs, openai.ChatCompletionMessageParamOfAssistant(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	model := p.model
	if req.Model != "" {
		model = req.Model
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: msgs,
	}
	if req.JSONMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", p.mapError(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", cerrors.NewAPIError("openai", 0, "empty choices")
	}

	p.logger.Debug().
		Str("model", model).
		Bool("json_mode", req.JSONMode).
		Int("messages", len(msgs)).
		Msg("openai complete")

	return resp.Choices[0].Message.Content, nil
}

// mapError normalizes SDK errors into the service error taxonomy so retry
// and fallback handling can classify them.
func (p *OpenAIProvider) mapError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return &cerrors.APIError{Service: "openai", Message: "request timed out", Err: cerrors.ErrTimeout}
	}

	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return &cerrors.APIError{
			Service:    "openai",
			StatusCode: apierr.StatusCode,
			Message:    "chat completion failed",
			Err:        err,
		}
	}
	return &cerrors.APIError{Service: "openai", Message: "chat completion failed", Err: cerrors.ErrUnavailable}
}
