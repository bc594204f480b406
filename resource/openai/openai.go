// Package openai provides a container resource wrapping the OpenAI Chat
// Completions API. Plugins acquire it by name through their context and call
// Complete for single-turn text generation.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/hupe1980/stagemesh/core"
)

// Options configure the OpenAI resource.
// Fields mirror a subset of Chat Completion parameters intentionally kept
// minimal; extend via functional options without breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	SystemPrompt        string
}

// Resource wraps an OpenAI client behind the container's resource lifecycle.
// The kind is external-api, so the default circuit breaker opens after five
// consecutive failures.
type Resource struct {
	name   string
	client *openai.Client
	opts   Options
}

// Compile-time interface check.
var _ core.Resource = (*Resource)(nil)

// NewResource creates an OpenAI resource using the official client, which
// reads its API key from the environment.
func NewResource(name string, optFns ...func(o *Options)) *Resource {
	client := openai.NewClient()
	return NewResourceFromClient(name, &client, optFns...)
}

// NewResourceFromClient creates an OpenAI resource from an existing client.
func NewResourceFromClient(name string, client *openai.Client, optFns ...func(o *Options)) *Resource {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Resource{name: name, client: client, opts: opts}
}

// Descriptor returns the container descriptor for this resource.
func (r *Resource) Descriptor() core.ResourceDescriptor {
	return core.ResourceDescriptor{Name: r.name, Kind: core.ResourceKindExternalAPI}
}

// Factory returns a container factory handing out this instance.
func (r *Resource) Factory() core.ResourceFactory {
	return func() (core.Resource, error) { return r, nil }
}

// Name implements core.Resource.
func (r *Resource) Name() string { return r.name }

// Initialize implements core.Resource. The client needs no setup beyond
// construction.
func (r *Resource) Initialize(_ context.Context) error {
	if r.client == nil {
		return fmt.Errorf("openai resource %q: nil client", r.name)
	}
	return nil
}

// HealthCheck implements core.Resource. It verifies only local readiness;
// remote failures are the circuit breaker's concern at call time.
func (r *Resource) HealthCheck(_ context.Context) error {
	if r.client == nil {
		return fmt.Errorf("openai resource %q: nil client", r.name)
	}
	return nil
}

// Shutdown implements core.Resource.
func (r *Resource) Shutdown(_ context.Context) error { return nil }

// Complete sends a single-turn prompt and returns the model's text reply.
func (r *Resource) Complete(ctx context.Context, prompt string) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if r.opts.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(r.opts.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               r.opts.Model,
		Temperature:         openai.Float(r.opts.Temperature),
		MaxCompletionTokens: openai.Int(r.opts.MaxCompletionTokens),
	}

	resp, err := r.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai api returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
