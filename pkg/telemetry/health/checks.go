package health

import (
	"context"
	"errors"
)

// Pinger is anything with a connectivity check, such as the counter store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck adapts a Pinger.
func PingCheck(p Pinger) CheckFunc {
	return p.Ping
}

// ErrNoPolicies is reported when no policy snapshot is loaded.
var ErrNoPolicies = errors.New("no policies loaded")

// PolicyCheck fails while count reports zero policies or lastErr reports
// a load failure with nothing loaded.
func PolicyCheck(count func() int, lastErr func() error) CheckFunc {
	return func(context.Context) error {
		if count() > 0 {
			return nil
		}
		if err := lastErr(); err != nil {
			return err
		}
		return ErrNoPolicies
	}
}
