// Package policy defines warden's governance policy model.
//
// A Policy bundles cost limits, rate limits, PII handling, routing rules,
// caching, and logging flags. Policies are parsed from YAML, validated as a
// whole (every violation is reported, not just the first), and treated as
// immutable once loaded. Loading, lookup, and hot reload live in the
// manager subpackage.
package policy
