package go_relay_i_guess

import (
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records the relay's activity on Prometheus.
//
// Every method is safe to call on a nil *Metrics, in which case nothing is
// recorded.
type Metrics struct {
    authAttempts *prometheus.CounterVec
    boundConns prometheus.Gauge
    sessions prometheus.Gauge
    enrichments *prometheus.CounterVec
}

// NewMetrics create and register the relay's metrics on `reg`.
func NewMetrics(reg prometheus.Registerer) *Metrics {
    return &Metrics {
        authAttempts: promauto.With(reg).NewCounterVec(
            prometheus.CounterOpts {
                Name: "relay_auth_attempts_total",
                Help: "Total number of authentication attempts by mode and result",
            },
            []string{"mode", "result"}, // "open"/"restricted", "success"/"failure"
        ),
        boundConns: promauto.With(reg).NewGauge(
            prometheus.GaugeOpts {
                Name: "relay_bound_connections",
                Help: "Number of connections currently bound to a session",
            },
        ),
        sessions: promauto.With(reg).NewGauge(
            prometheus.GaugeOpts {
                Name: "relay_sessions",
                Help: "Number of live sessions",
            },
        ),
        enrichments: promauto.With(reg).NewCounterVec(
            prometheus.CounterOpts {
                Name: "relay_enrichments_total",
                Help: "Total number of reverse lookups by result",
            },
            []string{"result"}, // "resolved", "fallback"
        ),
    }
}

func (m *Metrics) recordAuth(mode string, success bool) {
    if m == nil {
        return
    }
    result := "failure"
    if success {
        result = "success"
    }
    m.authAttempts.WithLabelValues(mode, result).Inc()
}

func (m *Metrics) recordBound(delta float64) {
    if m == nil {
        return
    }
    m.boundConns.Add(delta)
}

func (m *Metrics) setSessions(n int) {
    if m == nil {
        return
    }
    m.sessions.Set(float64(n))
}

func (m *Metrics) recordEnrichment(resolved bool) {
    if m == nil {
        return
    }
    result := "fallback"
    if resolved {
        result = "resolved"
    }
    m.enrichments.WithLabelValues(result).Inc()
}
