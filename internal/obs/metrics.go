package obs

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the counters/histograms each actor/component increments.
// Grounded on the teacher's server/metrics.go, generalized from dex's
// single-IdP counters to per-component counters across the sharded actors.
type Metrics struct {
	CodesIssued        prometheus.Counter
	CodesConsumed       *prometheus.CounterVec
	RefreshRotations    *prometheus.CounterVec
	RefreshReuseDetected prometheus.Counter
	RevocationChecks    prometheus.Counter
	RevocationHits      prometheus.Counter
	ActorCallDuration   *prometheus.HistogramVec
}

// NewMetrics registers the collectors against reg and returns the struct.
// Pass prometheus.NewRegistry() in tests to avoid the global default
// registry's duplicate-registration panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CodesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "authrim",
			Subsystem: "code",
			Name:      "issued_total",
			Help:      "Authorization codes minted.",
		}),
		CodesConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authrim",
			Subsystem: "code",
			Name:      "consumed_total",
			Help:      "Authorization code consumption outcomes.",
		}, []string{"result"}),
		RefreshRotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authrim",
			Subsystem: "refresh",
			Name:      "rotations_total",
			Help:      "Refresh token rotations by outcome.",
		}, []string{"result"}),
		RefreshReuseDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "authrim",
			Subsystem: "refresh",
			Name:      "reuse_detected_total",
			Help:      "Refresh token families revoked due to reuse of a superseded token.",
		}),
		RevocationChecks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "authrim",
			Subsystem: "revocation",
			Name:      "checks_total",
			Help:      "RevocationIndex.isRevoked calls.",
		}),
		RevocationHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "authrim",
			Subsystem: "revocation",
			Name:      "hits_total",
			Help:      "RevocationIndex.isRevoked calls that found a revoked jti.",
		}),
		ActorCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "authrim",
			Subsystem: "actorhost",
			Name:      "call_duration_seconds",
			Help:      "Actor mailbox round-trip latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"actor"}),
	}

	reg.MustRegister(
		m.CodesIssued, m.CodesConsumed, m.RefreshRotations,
		m.RefreshReuseDetected, m.RevocationChecks, m.RevocationHits,
		m.ActorCallDuration,
	)
	return m
}
