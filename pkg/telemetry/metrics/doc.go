// Package metrics exposes the gateway's Prometheus metrics.
//
// A Collector owns its registry and is wired in three places:
//
//   - as a pipeline.Sink, turning each request Event into request, block,
//     cost, cache, PII, and upstream series
//   - as the policy manager's ReloadObserver
//   - through Guards, which returns the observer for the rate limiter and
//     cost guard
//
// Model labels are bounded by a CardinalityLimiter; models beyond the
// limit are reported as "other".
//
// Exported series (namespace "warden" by default):
//
//	warden_requests_total{policy,outcome}
//	warden_request_duration_seconds{policy}
//	warden_blocks_total{policy,kind}
//	warden_degraded_total{policy}
//	warden_cost_usd_total{policy,model}
//	warden_cost_estimated_usd_total{policy}
//	warden_cache_requests_total{result}
//	warden_pii_findings_total{type}
//	warden_upstream_duration_seconds{model}
//	warden_upstream_errors_total
//	warden_upstream_healthy{upstream}
//	warden_policy_reloads_total{result}
//	warden_policies_loaded
//	warden_guard_checks_total{guard,result}
//	warden_guard_limit_hits_total{guard,window}
//	warden_guard_budget_usage_ratio{policy,window}
package metrics
