// Package openai provides an implementation of model.Model using the OpenAI
// Chat Completions API. It adapts ApplyForge's normalized Request/Response
// structures into the SDK's message format and back, and classifies API
// failures as transient or permanent.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/applyforge/core"
	"github.com/hupe1980/applyforge/model"
	"github.com/openai/openai-go"
)

// Options configure the OpenAI model adapter.
// Fields mirror a subset of Chat Completion parameters intentionally kept
// minimal; extend via functional options without breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Model wraps the OpenAI Chat Completions API behind the generic model.Model interface.
type Model struct {
	client *openai.Client
	opts   Options
}

// NewModel creates a new OpenAI model using the official client
func NewModel(optFns ...func(o *Options)) *Model {
	client := openai.NewClient()
	return NewModelFromClient(&client, optFns...)
}

// NewModelFromClient creates a new OpenAI model from an existing client
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Generate implements model.Model using a non-streaming chat completion.
func (m *Model) Generate(ctx context.Context, req model.Request) (*model.Response, error) {
	params := m.buildParams(req)

	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, m.classifyErr(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &core.BackendError{
			Provider: "openai",
			Err:      fmt.Errorf("no choices returned"),
		}
	}

	ch0 := resp.Choices[0]

	return &model.Response{
		Text:         ch0.Message.Content,
		FinishReason: ch0.FinishReason,
		Usage: &model.TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// buildParams assembles the OpenAI request parameters.
func (m *Model) buildParams(req model.Request) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               m.opts.Model,
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(req.MaxTokens)
	}
	return params
}

// classifyErr wraps an SDK error as a core.BackendError. Rate limits,
// request timeouts and server-side errors are transient; everything with a
// concrete 4xx status is permanent. Errors without an HTTP status (dial
// failures, resets) count as transient.
func (m *Model) classifyErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	transient := true

	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == 408 || apierr.StatusCode == 429:
			transient = true
		case apierr.StatusCode >= 500:
			transient = true
		default:
			transient = false
		}
	}

	return &core.BackendError{
		Provider:  "openai",
		Transient: transient,
		Err:       err,
	}
}

// Info returns metadata describing this OpenAI model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:     m.opts.Model,
		Provider: "openai",
	}
}
