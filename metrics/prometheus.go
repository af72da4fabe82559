package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Collector backed by Prometheus.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	solves          *prometheus.CounterVec
	solveIterations *prometheus.HistogramVec
	solveDuration   *prometheus.HistogramVec
	solveReduction  *prometheus.GaugeVec
	exchanges       *prometheus.CounterVec
	exchangeValues  *prometheus.CounterVec
	amgLevels       prometheus.Gauge
	amgCoarseSize   prometheus.Gauge
	defect          prometheus.Gauge
}

// Compile-time assertion that PrometheusCollector implements Collector.
var _ Collector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer interface (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Prometheus metrics namespace (defaults to "ovlpsolver" if empty)
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "ovlpsolver"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.solves = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "linear",
			Name:      "solves_total",
			Help:      "Total linear solves by backend and convergence.",
		}, []string{"backend", "converged"})

		p.solveIterations = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "linear",
			Name:      "solve_iterations",
			Help:      "Krylov iterations per linear solve by backend.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 13), // 1 .. 4096
		}, []string{"backend"})

		p.solveDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "linear",
			Name:      "solve_duration_seconds",
			Help:      "Wall time of linear solves in seconds by backend.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"backend"})

		p.solveReduction = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "linear",
			Name:      "last_reduction",
			Help:      "Defect reduction achieved by the last solve by backend.",
		}, []string{"backend"})

		p.exchanges = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "exchange",
			Name:      "total",
			Help:      "Total boundary exchanges by interface.",
		}, []string{"interface"})

		p.exchangeValues = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "exchange",
			Name:      "values_total",
			Help:      "Total scalars sent in boundary exchanges by interface.",
		}, []string{"interface"})

		p.amgLevels = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "amg",
			Name:      "levels",
			Help:      "Number of levels of the last AMG hierarchy.",
		})

		p.amgCoarseSize = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "amg",
			Name:      "coarse_size",
			Help:      "Global number of unknowns on the coarsest AMG level.",
		})

		p.defect = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "stationary",
			Name:      "initial_defect",
			Help:      "Initial defect norm of the last stationary solve.",
		})

		p.reg.MustRegister(p.solves)
		p.reg.MustRegister(p.solveIterations)
		p.reg.MustRegister(p.solveDuration)
		p.reg.MustRegister(p.solveReduction)
		p.reg.MustRegister(p.exchanges)
		p.reg.MustRegister(p.exchangeValues)
		p.reg.MustRegister(p.amgLevels)
		p.reg.MustRegister(p.amgCoarseSize)
		p.reg.MustRegister(p.defect)
	})
}

// RecordSolve records the outcome of one linear solve.
func (p *PrometheusCollector) RecordSolve(backend string, converged bool, iterations int, elapsed time.Duration, reduction float64) {
	p.ensureRegistered()
	p.solves.WithLabelValues(backend, strconv.FormatBool(converged)).Inc()
	p.solveIterations.WithLabelValues(backend).Observe(float64(iterations))
	p.solveDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
	p.solveReduction.WithLabelValues(backend).Set(reduction)
}

// RecordExchange records one boundary exchange.
func (p *PrometheusCollector) RecordExchange(iface string, values int) {
	p.ensureRegistered()
	p.exchanges.WithLabelValues(iface).Inc()
	p.exchangeValues.WithLabelValues(iface).Add(float64(values))
}

// RecordHierarchy records the shape of an AMG hierarchy.
func (p *PrometheusCollector) RecordHierarchy(levels int, coarseSize int) {
	p.ensureRegistered()
	p.amgLevels.Set(float64(levels))
	p.amgCoarseSize.Set(float64(coarseSize))
}

// RecordDefect records the initial defect of a stationary solve.
func (p *PrometheusCollector) RecordDefect(defect float64) {
	p.ensureRegistered()
	p.defect.Set(defect)
}
