package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mercator-hq/warden/pkg/limits/budget"
	"mercator-hq/warden/pkg/limits/ratelimit"
	"mercator-hq/warden/pkg/pipeline"
	"mercator-hq/warden/pkg/processing/pii"
	"mercator-hq/warden/pkg/providers"
	"mercator-hq/warden/pkg/proxy/types"
)

// HandleError maps err to an OpenAI-compatible error body. Messages never
// carry prompt content or PII values.
func HandleError(err error) *types.ErrorResponse {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.ToErrorResponse()
	}

	var v *pipeline.Violation
	if errors.As(err, &v) {
		return handleViolation(v)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewGatewayTimeoutError("Request timed out")
	}
	return types.NewServerError("An internal error occurred. Please try again later.")
}

func handleViolation(v *pipeline.Violation) *types.ErrorResponse {
	switch v.Kind {
	case pipeline.KindPolicyInvalid:
		return types.NewErrorResponse("Policy could not be applied", types.ErrorTypeServerError, "", types.CodePolicyInvalid)

	case pipeline.KindPIIBlocked:
		msg := "Request blocked: contains PII"
		var blocked *pii.BlockedError
		if errors.As(v, &blocked) && len(blocked.Types) > 0 {
			msg = fmt.Sprintf("Request blocked: contains PII (%s)", strings.Join(blocked.Types, ", "))
		}
		return types.NewPermissionDeniedError(msg, types.CodePIIBlocked)

	case pipeline.KindCostLimit:
		msg := "Request blocked: cost limit exceeded"
		var limit *budget.LimitExceededError
		if errors.As(v, &limit) {
			msg = "Request blocked: " + limit.Error()
		}
		return types.NewPermissionDeniedError(msg, types.CodeCostLimit)

	case pipeline.KindRateLimited:
		msg := "Rate limit exceeded"
		var exceeded *ratelimit.ExceededError
		if errors.As(v, &exceeded) {
			msg = fmt.Sprintf("Rate limit exceeded: %d requests per %s", exceeded.Limit, exceeded.Window)
		}
		return types.NewRateLimitError(msg)

	case pipeline.KindStoreUnavailable:
		return types.NewStoreUnavailableError("Governance store unavailable")

	case pipeline.KindUpstreamError:
		if errors.Is(v, pipeline.ErrUpstreamTimeout) {
			return types.NewGatewayTimeoutError("Upstream request timed out")
		}
		var uerr *providers.UpstreamError
		if errors.As(v, &uerr) && uerr.StatusCode != 0 {
			return types.NewBadGatewayError(fmt.Sprintf("Upstream %s returned status %d", uerr.Provider, uerr.StatusCode))
		}
		return types.NewBadGatewayError("Upstream request failed")
	}
	return types.NewServerError("An internal error occurred. Please try again later.")
}

// statusFor returns the HTTP status for err and its body.
func statusFor(err error, resp *types.ErrorResponse) int {
	var reqErr *RequestError
	if errors.As(err, &reqErr) && reqErr.Status != 0 {
		return reqErr.Status
	}
	return resp.Error.HTTPStatusCode()
}

// WriteError maps err, sets Retry-After and rate limit headers when they
// apply, and writes the error body.
func WriteError(w http.ResponseWriter, err error, now time.Time) {
	resp := HandleError(err)

	var exceeded *ratelimit.ExceededError
	if errors.As(err, &exceeded) {
		SetRateLimitHeaders(w.Header(), &types.RateLimitInfo{
			Window:    string(exceeded.Window),
			Limit:     exceeded.Limit,
			Remaining: 0,
			ResetUnix: exceeded.Reset.Unix(),
		})
		w.Header().Set("Retry-After", retryAfter(exceeded.Reset, now))
	}

	_ = writeJSON(w, statusFor(err, resp), resp)
}

// retryAfter rounds up to whole seconds, at least 1.
func retryAfter(reset, now time.Time) string {
	secs := int64((reset.Sub(now) + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}
