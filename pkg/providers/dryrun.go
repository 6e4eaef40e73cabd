package providers

import (
	"context"
	"sync/atomic"

	"mercator-hq/warden/pkg/proxy/types"
)

// DryRun is a forwarder that performs no I/O. It answers every request
// with an empty assistant message and no usage, so the caller falls back
// to its estimate. It records the last request it was given.
type DryRun struct {
	last atomic.Pointer[types.ChatCompletionRequest]
}

// Forward returns a synthetic completion for req.Model.
func (d *DryRun) Forward(ctx context.Context, req *types.ChatCompletionRequest) (*types.ChatCompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.last.Store(req.Clone())
	return &types.ChatCompletionResponse{
		ID:     "dryrun",
		Object: "chat.completion",
		Model:  req.Model,
		Choices: []types.Choice{{
			Message:      types.Message{Role: "assistant", Content: ""},
			FinishReason: "stop",
		}},
	}, nil
}

// Last returns the most recent request forwarded, or nil.
func (d *DryRun) Last() *types.ChatCompletionRequest {
	return d.last.Load()
}
