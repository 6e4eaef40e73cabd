// Package budget implements the cost guard: per-request, per-minute, and
// daily spend caps enforced through reservations.
//
// # Reservations
//
// A naive check-then-increment lets concurrent requests overshoot a cap.
// The guard instead reserves the estimated cost up front:
//
//	r, err := guard.Reserve(ctx, p, client, estimate.Cost)
//	if err != nil {
//	    // *LimitExceededError or ErrStoreUnavailable
//	}
//	defer guard.Release(ctx, r) // no-op once committed
//
//	// ... forward upstream ...
//
//	guard.Commit(ctx, r, actualCost)
//
// Reserve adds the estimate to every ledger window in one atomic
// IncrementAll; if any window would pass its cap nothing is written. Commit
// applies actual-minus-reserved to the same keys, and Release subtracts the
// reservation. A reservation is settled exactly once.
//
// # Ledger
//
// Spend is stored in integer micro-USD under keys of the form
//
//	warden:cost:{policy}:{client|global}:{minute|day}:{window_start}
//
// # Alerts
//
// After each commit the day window is compared against the alert thresholds
// (80% and 95% by default). Each threshold fires at most once per window
// and is handed to a Notifier, which must not block.
package budget
