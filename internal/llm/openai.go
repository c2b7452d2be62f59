package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/nugget/dazzy/internal/intent"
)

// OpenAIConfig configures an [OpenAIClient].
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// OpenAIClient calls any OpenAI-compatible chat completion API.
// DeepSeek is the default target.
type OpenAIClient struct {
	client      openai.Client
	model       string
	temperature float64
	logger      *slog.Logger
}

// NewOpenAI returns a client. The caller decides whether a client
// exists at all: an empty API key is an offline configuration handled
// upstream, not here.
func NewOpenAI(cfg OpenAIConfig) *OpenAIClient {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		opts = append(opts, option.WithBaseURL(base))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIClient{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		logger:      logger.With("component", "llm", "model", cfg.Model),
	}
}

// Chat implements [Client].
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message) (*ChatResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: toParams(messages),
	}
	if c.temperature > 0 {
		params.Temperature = openai.Float(c.temperature)
	}

	start := time.Now()
	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return nil, &intent.UnavailableError{Collaborator: "completion", Err: ErrEmptyResponse}
	}

	resp := &ChatResponse{
		Model:        completion.Model,
		Message:      Message{Role: RoleAssistant, Content: completion.Choices[0].Message.Content},
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
		Elapsed:      time.Since(start),
	}
	c.logger.Debug("completion finished",
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"elapsed", resp.Elapsed.Round(time.Millisecond),
	)
	return resp, nil
}

// Ping lists models, which exercises both reachability and the key.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	if _, err := c.client.Models.List(ctx); err != nil {
		return classify(err)
	}
	return nil
}

func toParams(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// classify wraps provider errors so the fallback chain can tell quota
// exhaustion apart from other outages.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusPaymentRequired {
			err = fmt.Errorf("%w: %v", ErrQuotaExhausted, err)
		}
	}
	return &intent.UnavailableError{Collaborator: "completion", Err: err}
}
