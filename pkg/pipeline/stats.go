package pipeline

import (
	"math"
	"sync/atomic"
)

// Stats are aggregate counters since startup.
type Stats struct {
	Requests       int64          `json:"requests"`
	Served         int64          `json:"served"`
	Blocked        map[Kind]int64 `json:"blocked"`
	CacheHits      int64          `json:"cache_hits"`
	CacheMisses    int64          `json:"cache_misses"`
	PIIFindings    int64          `json:"pii_findings"`
	TotalCost      float64        `json:"total_cost"`
	UpstreamErrors int64          `json:"upstream_errors"`
	Degraded       int64          `json:"degraded"`
}

type counters struct {
	requests       atomic.Int64
	served         atomic.Int64
	blocked        [numKinds]atomic.Int64
	cacheHits      atomic.Int64
	cacheMisses    atomic.Int64
	piiFindings    atomic.Int64
	costMicros     atomic.Int64
	upstreamErrors atomic.Int64
	degraded       atomic.Int64
}

const numKinds = 6

var kindIndex = map[Kind]int{
	KindPolicyInvalid:    0,
	KindPIIBlocked:       1,
	KindRateLimited:      2,
	KindCostLimit:        3,
	KindStoreUnavailable: 4,
	KindUpstreamError:    5,
}

func (c *counters) record(e Event) {
	c.requests.Add(1)
	c.piiFindings.Add(int64(e.PIIFindings))
	if e.Degraded {
		c.degraded.Add(1)
	}
	if e.ActualCost > 0 {
		c.costMicros.Add(int64(math.Round(e.ActualCost * 1e6)))
	}

	if e.BlockedKind != "" {
		if i, ok := kindIndex[e.BlockedKind]; ok {
			c.blocked[i].Add(1)
		}
		if e.BlockedKind == KindUpstreamError {
			c.upstreamErrors.Add(1)
		}
		return
	}
	if !e.Canceled {
		c.served.Add(1)
	}
}

func (c *counters) snapshot() Stats {
	s := Stats{
		Requests:       c.requests.Load(),
		Served:         c.served.Load(),
		Blocked:        make(map[Kind]int64, len(kindIndex)),
		CacheHits:      c.cacheHits.Load(),
		CacheMisses:    c.cacheMisses.Load(),
		PIIFindings:    c.piiFindings.Load(),
		TotalCost:      float64(c.costMicros.Load()) / 1e6,
		UpstreamErrors: c.upstreamErrors.Load(),
		Degraded:       c.degraded.Load(),
	}
	for k, i := range kindIndex {
		s.Blocked[k] = c.blocked[i].Load()
	}
	return s
}
