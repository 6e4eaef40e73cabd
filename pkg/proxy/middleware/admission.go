package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"mercator-hq/warden/pkg/proxy"
	"mercator-hq/warden/pkg/proxy/types"
	"mercator-hq/warden/pkg/telemetry/logging"
)

// limiterIdle is how long an unused per-client bucket is kept.
const limiterIdle = 10 * time.Minute

// Admission smooths request bursts per client with a token bucket before
// any governance work runs. Governance quotas are enforced later by the
// pipeline against the shared store; this only protects the process.
type Admission struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters *gocache.Cache
}

// NewAdmission allows rps requests per second per client with the given
// burst. A non-positive rps disables admission control.
func NewAdmission(rps float64, burst int) *Admission {
	if burst < 1 {
		burst = max(1, int(math.Ceil(rps)))
	}
	return &Admission{
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: gocache.New(limiterIdle, limiterIdle),
	}
}

// Enabled reports whether requests are ever refused.
func (a *Admission) Enabled() bool {
	return a.limit > 0
}

// Allow reports whether client may proceed now. When it may not, wait is
// how long until a token is available.
func (a *Admission) Allow(client string, now time.Time) (ok bool, wait time.Duration) {
	if !a.Enabled() {
		return true, 0
	}
	l := a.limiterFor(client)
	res := l.ReserveN(now, 1)
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		return false, d
	}
	return true, 0
}

func (a *Admission) limiterFor(client string) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	if v, found := a.limiters.Get(client); found {
		l := v.(*rate.Limiter)
		a.limiters.SetDefault(client, l)
		return l
	}
	l := rate.NewLimiter(a.limit, a.burst)
	a.limiters.SetDefault(client, l)
	return l
}

// Middleware refuses over-rate clients with 429 and Retry-After. The
// client comes from the Identity middleware.
func (a *Admission) Middleware(next http.Handler) http.Handler {
	if !a.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := a.Allow(logging.GetClient(r.Context()), time.Now())
		if !ok {
			secs := int64(math.Ceil(wait.Seconds()))
			w.Header().Set("Retry-After", strconv.FormatInt(max(1, secs), 10))
			logging.FromContext(r.Context()).DebugContext(r.Context(), "Request refused by admission control", "wait", wait)
			_ = proxy.WriteErrorResponse(w, types.NewRateLimitError("Too many requests"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
