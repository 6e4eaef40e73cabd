// Package routing selects the upstream model for a request.
//
// A policy's model_routing rules are evaluated top to bottom against facts
// derived from the request; the first rule whose condition holds names the
// model. Validation guarantees the last rule is "default", so selection is
// total. A policy with no rules keeps the requested model.
//
// Selection is pure: it reads the request and policy and returns a
// Decision. Counters are kept on the side for the stats endpoint.
package routing
