package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arklim/bizhub-authz/internal/core/domain"
)

// AuthzMetricsOptions configures the authorization collectors.
type AuthzMetricsOptions struct {
	Registerer prometheus.Registerer
	Namespace  string
	Buckets    []float64
}

// AuthzMetrics records resolver decisions and expiry sweeps.
type AuthzMetrics struct {
	Decisions      *prometheus.CounterVec
	DecisionTime   prometheus.Histogram
	DecisionErrors prometheus.Counter
	ReaperRevoked  prometheus.Counter
}

// NewAuthzMetrics registers the collectors, reusing ones that are already registered.
func NewAuthzMetrics(opts AuthzMetricsOptions) (*AuthzMetrics, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "authz"
	}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	buckets := opts.Buckets
	if len(buckets) == 0 {
		buckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}
	}

	decisions, err := RegisterOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decisions_total",
		Help:      "Authorization decisions partitioned by reason.",
	}, []string{"reason"}))
	if err != nil {
		return nil, fmt.Errorf("register decisions collector: %w", err)
	}

	duration, err := RegisterOrReuse[prometheus.Histogram](reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "decision_duration_seconds",
		Help:      "Latency of authorization decisions in seconds.",
		Buckets:   buckets,
	}))
	if err != nil {
		return nil, fmt.Errorf("register decision duration collector: %w", err)
	}

	failures, err := RegisterOrReuse[prometheus.Counter](reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decision_errors_total",
		Help:      "Authorization decisions that hit an infrastructure error.",
	}))
	if err != nil {
		return nil, fmt.Errorf("register decision errors collector: %w", err)
	}

	revoked, err := RegisterOrReuse[prometheus.Counter](reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reaper_revoked_total",
		Help:      "Expired direct permissions removed by the reaper.",
	}))
	if err != nil {
		return nil, fmt.Errorf("register reaper collector: %w", err)
	}

	return &AuthzMetrics{
		Decisions:      decisions,
		DecisionTime:   duration,
		DecisionErrors: failures,
		ReaperRevoked:  revoked,
	}, nil
}

// ObserveDecision records the reason and latency of a decision.
func (m *AuthzMetrics) ObserveDecision(reason domain.DecisionReason, duration time.Duration) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(string(reason)).Inc()
	m.DecisionTime.Observe(duration.Seconds())
}

// IncDecisionError counts a decision that failed on infrastructure.
func (m *AuthzMetrics) IncDecisionError() {
	if m == nil {
		return
	}
	m.DecisionErrors.Inc()
}

// AddReaperRevoked adds the number of grants a sweep removed.
func (m *AuthzMetrics) AddReaperRevoked(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.ReaperRevoked.Add(float64(count))
}

// RegisterOrReuse registers collector, returning the already registered
// collector of the same type when one exists.
func RegisterOrReuse[T prometheus.Collector](reg prometheus.Registerer, collector T) (T, error) {
	if err := reg.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
			return collector, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		return collector, err
	}
	return collector, nil
}
