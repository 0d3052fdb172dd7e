package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
)

// SubmitBatch implements BatchRunner by creating one Message Batches job
// covering every request. Returns the external batch identifier; the
// provider processes the job asynchronously (up to 24 hours).
func (c *Client) SubmitBatch(ctx context.Context, reqs []Request) (string, error) {
	if len(reqs) == 0 {
		return "", fmt.Errorf("batch submission requires at least one request")
	}

	requests := make([]anthropic.MessageBatchNewParamsRequest, 0, len(reqs))
	for _, req := range reqs {
		requests = append(requests, anthropic.MessageBatchNewParamsRequest{
			CustomID: req.ID,
			Params: anthropic.MessageBatchNewParamsRequestParams{
				Model:     c.model,
				MaxTokens: maxTokens,
				System: []anthropic.TextBlockParam{
					{Text: c.prompt},
				},
				Messages: []anthropic.MessageParam{
					anthropic.NewUserMessage(anthropic.NewTextBlock(userMessage(req))),
				},
			},
		})
	}

	batch, err := c.api.Messages.Batches.New(ctx, anthropic.MessageBatchNewParams{
		Requests: requests,
	})
	if err != nil {
		return "", fmt.Errorf("batch submission failed: %w", err)
	}
	return batch.ID, nil
}

// BatchStatus implements BatchRunner with a single status poll. A timeout
// here means "not yet known", never that the job itself failed.
func (c *Client) BatchStatus(ctx context.Context, batchID string) (*BatchStatus, error) {
	batch, err := c.api.Messages.Batches.Get(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("batch status poll failed: %w", err)
	}

	return &BatchStatus{
		ID:         batch.ID,
		State:      BatchState(batch.ProcessingStatus),
		Processing: batch.RequestCounts.Processing,
		Succeeded:  batch.RequestCounts.Succeeded,
		Errored:    batch.RequestCounts.Errored,
		Canceled:   batch.RequestCounts.Canceled,
		Expired:    batch.RequestCounts.Expired,
	}, nil
}

// BatchResults implements BatchRunner by streaming the finished job's
// JSONL results. Per-request failures become BatchResult.Err entries so
// the caller can mark just those records failed.
func (c *Client) BatchResults(ctx context.Context, batchID string) ([]BatchResult, error) {
	stream := c.api.Messages.Batches.ResultsStreaming(ctx, batchID)

	var results []BatchResult
	for stream.Next() {
		entry := stream.Current()
		result := BatchResult{CustomID: entry.CustomID}

		switch variant := entry.Result.AsAny().(type) {
		case anthropic.MessageBatchSucceededResult:
			content, err := parseResponse(messageText(&variant.Message))
			if err != nil {
				result.Err = err
			} else {
				result.Content = content
			}
		case anthropic.MessageBatchErroredResult:
			result.Err = fmt.Errorf("batch request errored: %s", variant.Error.Error.Message)
		case anthropic.MessageBatchCanceledResult:
			result.Err = fmt.Errorf("batch request canceled")
		case anthropic.MessageBatchExpiredResult:
			result.Err = fmt.Errorf("batch request expired")
		default:
			result.Err = fmt.Errorf("unknown batch result type %q", entry.Result.Type)
		}

		results = append(results, result)
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("failed to stream batch results: %w", err)
	}

	return results, nil
}
