// Package llm turns highlights into study cards using the Anthropic API.
//
// Two execution paths share one prompt and one response format: Generate
// makes a single synchronous Messages call, and the Batch* methods drive
// the Message Batches API for asynchronous bulk generation. Callers that
// need testability depend on the Generator and BatchRunner interfaces.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/mlodato/kindlecards/internal/cards"
)

// DefaultModel is used when no --model flag or config override is given.
const DefaultModel = "claude-sonnet-4-5"

const maxTokens = 1024

// Request is one highlight to convert.
type Request struct {
	// ID is the record identity; it becomes the batch custom_id so
	// results can be matched back to store rows.
	ID        string
	BookTitle string
	Author    string
	Highlight string
}

// Generator converts a single highlight into card content.
type Generator interface {
	Generate(ctx context.Context, req Request) (*cards.Content, error)
}

// BatchState is the coarse lifecycle of an external batch job.
type BatchState string

const (
	BatchInProgress BatchState = "in_progress"
	BatchCanceling  BatchState = "canceling"
	BatchEnded      BatchState = "ended"
)

// BatchStatus is a point-in-time snapshot of a batch job.
type BatchStatus struct {
	ID         string
	State      BatchState
	Processing int64
	Succeeded  int64
	Errored    int64
	Canceled   int64
	Expired    int64
}

// Done reports whether the job has finished processing (successfully or
// not). A job that is not done must be polled again later; it is never a
// failure by itself.
func (s *BatchStatus) Done() bool {
	return s.State == BatchEnded
}

// BatchResult is the outcome for one request in a finished batch.
type BatchResult struct {
	CustomID string
	Content  *cards.Content
	Err      error
}

// BatchRunner drives the asynchronous batch path.
type BatchRunner interface {
	SubmitBatch(ctx context.Context, reqs []Request) (string, error)
	BatchStatus(ctx context.Context, batchID string) (*BatchStatus, error)
	BatchResults(ctx context.Context, batchID string) ([]BatchResult, error)
}

// Client implements Generator and BatchRunner against the Anthropic API.
type Client struct {
	api    anthropic.Client
	model  anthropic.Model
	prompt string
}

// Options configures a Client.
type Options struct {
	// APIKey authenticates against the Anthropic API. Required.
	APIKey string
	// Model overrides DefaultModel.
	Model string
	// Prompt overrides the built-in system prompt.
	Prompt string
}

// New creates an Anthropic-backed client.
func New(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required (set ANTHROPIC_API_KEY)")
	}
	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	prompt := opts.Prompt
	if prompt == "" {
		prompt = systemPrompt
	}
	return &Client{
		api:    anthropic.NewClient(option.WithAPIKey(opts.APIKey)),
		model:  anthropic.Model(model),
		prompt: prompt,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return string(c.model)
}

// Generate implements Generator with one synchronous Messages call.
func (c *Client) Generate(ctx context.Context, req Request) (*cards.Content, error) {
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: c.prompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userMessage(req))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("messages call failed: %w", err)
	}
	return parseResponse(messageText(msg))
}

// userMessage renders the per-highlight prompt.
func userMessage(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Book: %s\n", req.BookTitle)
	if req.Author != "" {
		fmt.Fprintf(&b, "Author: %s\n", req.Author)
	}
	fmt.Fprintf(&b, "Highlight: %s", req.Highlight)
	return b.String()
}

// messageText concatenates the text blocks of a response.
func messageText(msg *anthropic.Message) string {
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}
