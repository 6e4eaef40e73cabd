package middleware

import (
	"context"
	"time"
)

type contextKey string

// StartTimeKey stores when the request entered the chain.
const StartTimeKey contextKey = "start_time"

// GetStartTime returns the request start time, or the zero time.
func GetStartTime(ctx context.Context) time.Time {
	if t, ok := ctx.Value(StartTimeKey).(time.Time); ok {
		return t
	}
	return time.Time{}
}
