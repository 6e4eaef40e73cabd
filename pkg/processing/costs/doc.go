// Package costs converts token counts into USD using a configurable price
// table.
//
// Prices are resolved by exact model name, then the longest matching
// prefix ("gpt-4o" prices "gpt-4o-2024-08-06"), then the "default" entry.
// The table is supplied by configuration; warden does not treat any
// built-in prices as authoritative.
package costs
