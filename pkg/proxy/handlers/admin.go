package handlers

import (
	"net/http"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mercator-hq/warden/pkg/cache"
	"mercator-hq/warden/pkg/pipeline"
	"mercator-hq/warden/pkg/proxy"
	"mercator-hq/warden/pkg/proxy/types"
	"mercator-hq/warden/pkg/providers"
	"mercator-hq/warden/pkg/routing"
)

// PoliciesPath is the prefix PoliciesHandler is mounted at.
const PoliciesPath = "/v1/warden/policies"

// StatsResponse is the body of the stats endpoint.
type StatsResponse struct {
	Pipeline *pipeline.Stats   `json:"pipeline,omitempty"`
	Cache    *cache.Stats      `json:"cache,omitempty"`
	Routing  *routing.Snapshot `json:"routing,omitempty"`
	Upstream *providers.Health `json:"upstream,omitempty"`
	Policies *PolicySummary    `json:"policies,omitempty"`
}

// PolicySummary describes the active policy snapshot.
type PolicySummary struct {
	Version  string    `json:"version"`
	LoadedAt time.Time `json:"loaded_at"`
	Names    []string  `json:"names"`
}

// StatsHandler reports in-process counters as JSON.
func StatsHandler(src StatsSources) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !readOnly(w, r) {
			return
		}
		var out StatsResponse
		if src.Pipeline != nil {
			s := src.Pipeline()
			out.Pipeline = &s
		}
		if src.Cache != nil {
			s := src.Cache()
			out.Cache = &s
		}
		if src.Routing != nil {
			s := src.Routing()
			out.Routing = &s
		}
		if src.Upstream != nil {
			h := src.Upstream()
			out.Upstream = &h
		}
		if src.Policies != nil {
			out.Policies = summarize(src.Policies)
		}
		w.Header().Set("Cache-Control", "no-store")
		_ = proxy.WriteJSONResponse(w, http.StatusOK, out)
	}
}

// PoliciesHandler lists the loaded policies, or with a trailing name
// returns that policy as YAML.
func PoliciesHandler(src SnapshotSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !readOnly(w, r) {
			return
		}
		name := strings.Trim(strings.TrimPrefix(r.URL.Path, PoliciesPath), "/")
		if name == "" {
			_ = proxy.WriteJSONResponse(w, http.StatusOK, summarize(src))
			return
		}

		p, ok := src.Snapshot().Lookup(name)
		if !ok {
			_ = proxy.WriteErrorResponse(w, types.NewNotFoundError("Policy not found", types.CodePolicyNotFound))
			return
		}
		data, err := yaml.Marshal(p)
		if err != nil {
			_ = proxy.WriteErrorResponse(w, types.NewServerError("Policy could not be encoded"))
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

func summarize(src SnapshotSource) *PolicySummary {
	snap := src.Snapshot()
	return &PolicySummary{
		Version:  snap.Version,
		LoadedAt: snap.LoadedAt,
		Names:    snap.Names(),
	}
}

func readOnly(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", "GET, HEAD")
	_ = proxy.WriteErrorResponse(w, types.NewInvalidRequestError(
		"Method "+r.Method+" not allowed", "method", "method_not_allowed"))
	return false
}
