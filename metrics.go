package activitystore

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Cache lookup results.
const (
	lookupHit   = "hit"
	lookupMiss  = "miss"
	lookupError = "error"
)

type metrics struct {
	cacheLookups *prometheus.CounterVec // Cache lookups by result
	operations   *prometheus.CounterVec // Store operations by name and outcome
}

// newMetrics creates the store metrics and registers them with reg when it is
// non-nil. Stores sharing a registry share the collectors.
func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "activitystore",
			Name:      "cache_lookups_total",
			Help:      "Total cache lookups by result",
		}, []string{"result"}),

		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "activitystore",
			Name:      "operations_total",
			Help:      "Total store operations by operation and status",
		}, []string{"op", "status"}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.cacheLookups, err = register(reg, m.cacheLookups); err != nil {
		return nil, err
	}
	if m.operations, err = register(reg, m.operations); err != nil {
		return nil, err
	}
	return m, nil
}

func register(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return c, nil
}

func (m *metrics) lookup(result string) {
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *metrics) observe(op string, err error) {
	m.operations.WithLabelValues(op, status(err)).Inc()
}

func status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidObject), errors.Is(err, ErrInvalidQuery), errors.Is(err, ErrInvalidCollection):
		return "invalid"
	default:
		return "error"
	}
}
