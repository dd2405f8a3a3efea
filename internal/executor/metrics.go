package executor

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts executed steps and statements and times whole executions.
// A nil *Metrics records nothing.
type Metrics struct {
	Steps      *prometheus.CounterVec
	Statements *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg. Collectors
// already registered by an earlier call are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lockshift",
			Name:      "steps_total",
			Help:      "Migration steps processed, by outcome",
		}, []string{"status"}),
		Statements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lockshift",
			Name:      "statements_total",
			Help:      "SQL statements executed, by result",
		}, []string{"result"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lockshift",
			Name:      "execution_seconds",
			Help:      "Wall-clock duration of migration executions",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
		}, []string{"status"}),
	}

	var err error
	if m.Steps, err = register(reg, m.Steps); err != nil {
		return nil, err
	}
	if m.Statements, err = register(reg, m.Statements); err != nil {
		return nil, err
	}
	if m.Duration, err = register(reg, m.Duration); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) step(status string) {
	if m != nil {
		m.Steps.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) statement(result string) {
	if m != nil {
		m.Statements.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) execution(status Status, d time.Duration) {
	if m != nil {
		m.Duration.WithLabelValues(string(status)).Observe(d.Seconds())
	}
}
