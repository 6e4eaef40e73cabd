// Warden is a governance gateway for OpenAI-compatible chat completion
// APIs. It enforces per-policy cost caps, rate limits, PII handling,
// response caching, and model routing, and records an audit trail of
// every decision.
//
// Usage:
//
//	# Start the gateway
//	warden run --config warden.yaml
//
//	# Check configuration and policies
//	warden validate --config warden.yaml
//
//	# Show loaded policies
//	warden policy list
//
//	# Dry-run recorded traffic through the policies
//	warden replay requests.jsonl
//
//	# Export the audit trail
//	warden evidence export --format csv --output evidence.csv
package main

import "os"

func main() {
	os.Exit(Execute())
}
