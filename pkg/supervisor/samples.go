package supervisor

import (
	"sort"
	"time"

	"github.com/gravitational/trace"

	"github.com/dwsnet/roost/pkg/types"
)

// durationRing is a fixed-capacity ring of invocation duration samples.
type durationRing struct {
	samples []float64 // milliseconds
	next    int
	full    bool
}

func newDurationRing(capacity int) *durationRing {
	return &durationRing{samples: make([]float64, capacity)}
}

func (r *durationRing) add(ms float64) {
	r.samples[r.next] = ms
	r.next++
	if r.next == len(r.samples) {
		r.next = 0
		r.full = true
	}
}

func (r *durationRing) snapshot() []float64 {
	n := r.next
	if r.full {
		n = len(r.samples)
	}
	out := make([]float64, n)
	copy(out, r.samples[:n])
	return out
}

// percentile computes the p-th percentile of sorted samples via
// nearest-rank.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(p/100*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

// Metrics returns the function's counters, latency percentiles over the
// recent sample ring and the 1-minute RPS.
func (s *Supervisor) Metrics(functionID string) (types.FunctionMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fs, ok := s.functions[functionID]
	if !ok {
		return types.FunctionMetrics{}, trace.NotFound("function %q not found", functionID)
	}

	sorted := fs.samples.snapshot()
	sort.Float64s(sorted)

	now := s.clock.Now()
	s.pruneInvocationWindowLocked(fs, now)

	return types.FunctionMetrics{
		Invocations: fs.fn.InvocationCount,
		Errors:      fs.fn.ErrorCount,
		P50Ms:       percentile(sorted, 50),
		P95Ms:       percentile(sorted, 95),
		P99Ms:       percentile(sorted, 99),
		RPS:         float64(len(fs.recentInvocations)) / rpsWindow.Seconds(),
		Instances:   len(fs.instances),
	}, nil
}

// recordInvocationLocked updates the rolling counters after an invocation.
// Lock held.
func (s *Supervisor) recordInvocationLocked(fs *functionState, durationMs float64, failed bool) {
	fs.fn.InvocationCount++
	if failed {
		fs.fn.ErrorCount++
	}
	// Exponential moving average over the last ~50 invocations.
	const alpha = 0.04
	if fs.fn.AvgDurationMs == 0 {
		fs.fn.AvgDurationMs = durationMs
	} else {
		fs.fn.AvgDurationMs = fs.fn.AvgDurationMs*(1-alpha) + durationMs*alpha
	}
	fs.samples.add(durationMs)

	now := s.clock.Now()
	fs.recentInvocations = append(fs.recentInvocations, now)
	s.pruneInvocationWindowLocked(fs, now)
}

func (s *Supervisor) pruneInvocationWindowLocked(fs *functionState, now time.Time) {
	cutoff := now.Add(-rpsWindow)
	i := 0
	for i < len(fs.recentInvocations) && fs.recentInvocations[i].Before(cutoff) {
		i++
	}
	fs.recentInvocations = fs.recentInvocations[i:]
}
