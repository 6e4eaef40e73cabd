package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"mercator-hq/warden/pkg/pipeline"
	"mercator-hq/warden/pkg/proxy"
	"mercator-hq/warden/pkg/proxy/types"
	"mercator-hq/warden/pkg/telemetry/logging"
)

// ChatHandler serves chat completions through the governance pipeline.
type ChatHandler struct {
	processor Processor
	maxBytes  int64
	identity  pipeline.IdentityOptions
}

// NewChatHandler creates a chat handler. A non-positive maxBytes uses
// proxy.DefaultMaxRequestBytes.
func NewChatHandler(p Processor, maxBytes int64, identity pipeline.IdentityOptions) *ChatHandler {
	if maxBytes <= 0 {
		maxBytes = proxy.DefaultMaxRequestBytes
	}
	return &ChatHandler{processor: p, maxBytes: maxBytes, identity: identity}
}

// ServeHTTP implements http.Handler.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		errResp := types.NewInvalidRequestError(
			fmt.Sprintf("Method %s not allowed. Use POST instead.", r.Method),
			"method",
			"method_not_allowed",
		)
		if err := proxy.WriteErrorResponse(w, errResp); err != nil {
			logger.ErrorContext(ctx, "Failed to write error response", "error", err)
		}
		return
	}

	body, err := proxy.ParseChatCompletionRequest(r, h.maxBytes)
	if err != nil {
		logger.DebugContext(ctx, "Rejected malformed request", "error", err)
		proxy.WriteError(w, err, time.Now())
		return
	}

	policyName := strings.TrimSpace(r.Header.Get(proxy.PolicyHeader))
	client := logging.GetClient(ctx)
	if client == "" {
		client = pipeline.ClientIdentityFrom(r, h.identity)
	}
	if policyName != "" {
		ctx = logging.WithPolicy(ctx, policyName)
	}

	resp, err := h.processor.Process(ctx, &pipeline.Request{
		ID:         logging.GetRequestID(ctx),
		PolicyName: policyName,
		Client:     client,
		Body:       body,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			logger.InfoContext(ctx, "Client went away before completion", "model", body.Model)
			return
		}
		proxy.WriteError(w, err, time.Now())
		return
	}

	proxy.SetGovernanceHeaders(w.Header(), resp.Governance)
	if err := proxy.WriteJSONResponse(w, http.StatusOK, resp.Body); err != nil {
		logger.ErrorContext(ctx, "Failed to write response", "error", err)
		return
	}

	if logger.Enabled(ctx, slog.LevelDebug) && resp.Governance != nil {
		logger.DebugContext(ctx, "Chat completion served",
			"requested_model", resp.Governance.RequestedModel,
			"model", resp.Governance.Model,
			"cache_hit", resp.Governance.CacheHit,
			"cost", resp.Governance.ActualCost,
		)
	}
}
