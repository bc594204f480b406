// Package anthropic provides a container resource wrapping the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hupe1980/stagemesh/core"
)

// Options configures the Anthropic resource (temperature, model id,
// max tokens, API key). Extend via functional options to preserve stability.
type Options struct {
	Model        anthropic.Model
	Temperature  float64
	MaxTokens    int64
	APIKey       string
	SystemPrompt string
}

// Resource wraps an Anthropic client behind the container's resource
// lifecycle. The kind is external-api.
type Resource struct {
	name   string
	client *anthropic.Client
	opts   Options
}

// Compile-time interface check.
var _ core.Resource = (*Resource)(nil)

// NewResource creates an Anthropic resource using the official client.
func NewResource(name string, optFns ...func(o *Options)) *Resource {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Resource{name: name, client: &client, opts: opts}
}

// NewResourceFromClient creates an Anthropic resource from an existing client.
func NewResourceFromClient(name string, client *anthropic.Client, optFns ...func(o *Options)) *Resource {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Resource{name: name, client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
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

// Initialize implements core.Resource.
func (r *Resource) Initialize(_ context.Context) error {
	if r.client == nil {
		return fmt.Errorf("anthropic resource %q: nil client", r.name)
	}
	return nil
}

// HealthCheck implements core.Resource. It verifies only local readiness;
// remote failures are the circuit breaker's concern at call time.
func (r *Resource) HealthCheck(_ context.Context) error {
	if r.client == nil {
		return fmt.Errorf("anthropic resource %q: nil client", r.name)
	}
	return nil
}

// Shutdown implements core.Resource.
func (r *Resource) Shutdown(_ context.Context) error { return nil }

// Complete sends a single-turn prompt and returns the model's text reply.
func (r *Resource) Complete(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       r.opts.Model,
		MaxTokens:   r.opts.MaxTokens,
		Temperature: anthropic.Float(r.opts.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if r.opts.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: r.opts.SystemPrompt}}
	}

	resp, err := r.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic api error: %w", err)
	}

	for _, block := range resp.Content {
		if block.Type == "text" {
			return block.AsText().Text, nil
		}
	}
	return "", fmt.Errorf("anthropic api returned no text content")
}
