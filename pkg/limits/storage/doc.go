// Package storage provides the shared key-value store behind warden's
// cost ledger, rate windows, and response cache.
//
// # Overview
//
// Every backend implements Store, which offers two kinds of operation:
//
//   - IncrementAll: an atomic, all-or-nothing capped increment across
//     several counters. A rejected batch leaves every counter untouched.
//   - Get/Set: opaque byte values with a time-to-live.
//
// Three implementations are provided:
//
//   - Memory: in-process map, for single instances and tests
//   - Redis: one Lua script per batch, for multi-instance deployments
//   - SQLite: one transaction per batch, for single instances that want
//     counters to survive restarts
//
// # Usage
//
//	store := storage.NewMemoryStore()
//	defer store.Close()
//
//	values, err := store.IncrementAll(ctx, []storage.Increment{
//	    {Key: "warden:rate:default:c1:minute:1700000040", Delta: 1, Limit: 60, TTL: time.Minute},
//	})
//	var exceeded *storage.LimitExceededError
//	if errors.As(err, &exceeded) {
//	    // nothing was applied
//	}
//
// # Thread Safety
//
// All backends are safe for concurrent use.
package storage
