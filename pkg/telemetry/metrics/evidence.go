package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EvidenceCounts reads the audit recorder's counters.
type EvidenceCounts interface {
	Recorded() int64
	Dropped() int64
	Failed() int64
}

// ObserveEvidence exports the recorder's counters as
// warden_evidence_records_total{result}, read at scrape time.
func (c *Collector) ObserveEvidence(counts EvidenceCounts) {
	results := map[string]func() int64{
		"recorded": counts.Recorded,
		"dropped":  counts.Dropped,
		"failed":   counts.Failed,
	}
	for result, read := range results {
		promauto.With(c.registry).NewCounterFunc(
			prometheus.CounterOpts{
				Namespace:   c.config.Namespace,
				Name:        "evidence_records_total",
				Help:        "Audit records by result (recorded, dropped, failed)",
				ConstLabels: prometheus.Labels{"result": result},
			},
			func() float64 { return float64(read()) },
		)
	}
}
