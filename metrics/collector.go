package metrics

import "time"

// Collector receives solver instrumentation. Implementations must be safe
// for concurrent use since every simulated rank runs on its own goroutine.
type Collector interface {
	// RecordSolve records the outcome of one linear solve.
	RecordSolve(backend string, converged bool, iterations int, elapsed time.Duration, reduction float64)
	// RecordExchange records one boundary exchange moving values scalars.
	RecordExchange(iface string, values int)
	// RecordHierarchy records the shape of a freshly built AMG hierarchy.
	RecordHierarchy(levels int, coarseSize int)
	// RecordDefect records the initial defect norm of a stationary solve.
	RecordDefect(defect float64)
}

// NopMetrics discards every metric.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements Collector.
var _ Collector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// RecordSolve discards the solve outcome.
func (n *NopMetrics) RecordSolve(_ string, _ bool, _ int, _ time.Duration, _ float64) {
	// No-op
}

// RecordExchange discards the exchange volume.
func (n *NopMetrics) RecordExchange(_ string, _ int) {
	// No-op
}

// RecordHierarchy discards the hierarchy shape.
func (n *NopMetrics) RecordHierarchy(_ int, _ int) {
	// No-op
}

// RecordDefect discards the defect norm.
func (n *NopMetrics) RecordDefect(_ float64) {
	// No-op
}

// OrNop returns c, or a no-op collector when c is nil.
func OrNop(c Collector) Collector {
	if c == nil {
		return NewNop()
	}
	return c
}
