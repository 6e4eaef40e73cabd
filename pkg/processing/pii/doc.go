// Package pii detects personally identifiable information in text and
// applies a policy action to it.
//
// # Catalog
//
// Entities are matched in a fixed priority order:
//
//	email, phone, ssn, credit_card, api_key, aws_key, ip_address
//
// When matches overlap, the earliest one wins, then the longest, then the
// one with higher priority. A 16-digit card number is therefore reported
// once as a credit card even though a phone pattern also matches inside it.
// Credit card candidates must pass the Luhn check.
//
// # Actions
//
//   - redact: "my email is a@b.com" becomes "my email is [EMAIL]"
//   - hash: the match becomes "[email:1f2e3d4c]", the first eight hex digits
//     of its SHA-256
//   - warn: the text is unchanged and findings are reported
//   - block: a *BlockedError naming the entity types is returned
//
// Redaction is idempotent: no replacement tag matches any pattern.
//
// Findings never carry the matched value, only a SHA-256 fingerprint.
package pii
