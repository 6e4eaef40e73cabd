package proxy

import (
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"mercator-hq/warden/pkg/proxy/types"
)

// WriteJSONResponse writes data as JSON with the given status.
func WriteJSONResponse(w http.ResponseWriter, statusCode int, data any) error {
	return writeJSON(w, statusCode, data)
}

// WriteErrorResponse writes an error body with the status its type maps to.
func WriteErrorResponse(w http.ResponseWriter, errResp *types.ErrorResponse) error {
	return writeJSON(w, errResp.Error.HTTPStatusCode(), errResp)
}

func writeJSON(w http.ResponseWriter, statusCode int, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		http.Error(w, `{"error":{"message":"encode response","type":"server_error"}}`, http.StatusInternalServerError)
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(statusCode)
	_, err = w.Write(body)
	return err
}

// SetGovernanceHeaders mirrors the governance summary into response
// headers so clients that ignore the body can still see decisions.
func SetGovernanceHeaders(h http.Header, g *types.Governance) {
	if g == nil {
		return
	}
	h.Set(PolicyHeader, g.Policy)
	h.Set(HeaderModel, g.Model)
	if g.CacheHit {
		h.Set(HeaderCache, "HIT")
	} else {
		h.Set(HeaderCache, "MISS")
	}
	h.Set(HeaderCost, strconv.FormatFloat(g.ActualCost, 'f', 6, 64))
	if n := g.PII.RequestFindings + g.PII.ResponseFindings; n > 0 {
		h.Set(HeaderPIIFindings, strconv.Itoa(n))
	}
	if g.RequestID != "" {
		h.Set(RequestIDHeader, g.RequestID)
	}
	SetRateLimitHeaders(h, g.RateLimit)
}

// SetRateLimitHeaders writes the X-RateLimit-* headers.
func SetRateLimitHeaders(h http.Header, info *types.RateLimitInfo) {
	if info == nil || info.Limit <= 0 {
		return
	}
	h.Set(HeaderRateLimitLimit, strconv.FormatInt(info.Limit, 10))
	h.Set(HeaderRateLimitRemaining, strconv.FormatInt(info.Remaining, 10))
	h.Set(HeaderRateLimitReset, strconv.FormatInt(info.ResetUnix, 10))
}
