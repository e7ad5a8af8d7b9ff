package coordinator

import (
	"math"
	"sort"
	"sync"
	"time"

	roaring "github.com/RoaringBitmap/roaring/v2"
	"go.uber.org/atomic"

	"github.com/cloudimpl/distq/distributed/communication"
)

// ProgressUpdater tracks query-wide scan-range completion. Ordinal (see
// communication.ScanRange) is only unique within its own scan node's range
// list, so a query with more than one scan node -- any join or multi-scan
// tree, the common case this coordinator exists for -- would collide node
// A's ordinal 0 with node B's ordinal 0 in a single shared bitmap. Keeping
// one roaring bitmap per scan node avoids that: within a node, adding the
// same ordinal twice leaves that node's cardinality unchanged, so a
// retried report can never double-count progress, and cardinalities sum
// cleanly across nodes.
type ProgressUpdater struct {
	mu        sync.Mutex
	total     int64
	completed map[communication.PlanNodeID]*roaring.Bitmap
}

func newProgressUpdater() *ProgressUpdater {
	return &ProgressUpdater{completed: make(map[communication.PlanNodeID]*roaring.Bitmap)}
}

func (p *ProgressUpdater) setTotal(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = n
}

func (p *ProgressUpdater) markComplete(completions []communication.ScanRangeCompletion) {
	if len(completions) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range completions {
		bm, ok := p.completed[c.ScanNodeID]
		if !ok {
			bm = roaring.New()
			p.completed[c.ScanNodeID] = bm
		}
		bm.Add(uint32(c.Ordinal))
	}
}

// Snapshot returns (completed, total) scan ranges as of now.
func (p *ProgressUpdater) Snapshot() (completed, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, bm := range p.completed {
		completed += int64(bm.GetCardinality())
	}
	return completed, p.total
}

// summaryStats computes streaming min/max/mean/stddev over a series of
// per-instance samples (bytes read, elapsed nanoseconds) with Welford's
// algorithm. The median is deliberately not tracked: it would require
// retaining every sample rather than O(1) running state, and the original
// coordinator's own summary-stats helper never shipped a working
// implementation of it either (see DESIGN.md, Open Questions).
type summaryStats struct {
	mu    sync.Mutex
	count int64
	mean  float64
	m2    float64
	min   int64
	max   int64
}

func newSummaryStats() *summaryStats {
	return &summaryStats{min: math.MaxInt64, max: math.MinInt64}
}

func (s *summaryStats) add(v int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	fv := float64(v)
	delta := fv - s.mean
	s.mean += delta / float64(s.count)
	delta2 := fv - s.mean
	s.m2 += delta * delta2
	if v < s.min {
		s.min = v
	}
	if v > s.max {
		s.max = v
	}
}

type summaryStatsSnapshot struct {
	Count  int64
	Mean   float64
	StdDev float64
	Min    int64
	Max    int64
}

func (s *summaryStats) snapshot() summaryStatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return summaryStatsSnapshot{}
	}
	variance := 0.0
	if s.count > 1 {
		variance = s.m2 / float64(s.count-1)
	}
	return summaryStatsSnapshot{
		Count:  s.count,
		Mean:   s.mean,
		StdDev: math.Sqrt(variance),
		Min:    s.min,
		Max:    s.max,
	}
}

// queryMetrics holds the hot counters read by QueryProfile callers
// concurrently with in-flight status reports. atomic.Int64 (rather than a
// mutex) is used here because these counters are incremented once per
// completed scan range on the hot UpdateFragmentExecStatus path (and once
// per row batch on the GetNext path) and read frequently
// by monitoring code, a classic single-writer-many-readers-per-field case.
type queryMetrics struct {
	bytesRead     atomic.Int64
	rowsProduced  atomic.Int64
	bytesPerRange *summaryStats
}

func newQueryMetrics() *queryMetrics {
	return &queryMetrics{bytesPerRange: newSummaryStats()}
}

func (m *queryMetrics) recordScanRangeCompletion(bytesRead int64) {
	m.bytesRead.Add(bytesRead)
	m.bytesPerRange.add(bytesRead)
}

// fragmentSummary aggregates per-instance samples for one fragment: bytes
// assigned, completion time, and execution rate, each fed once when an
// instance reports done. Grounded on coordinator.h's ReportQuerySummary
// (line 439), which computes exactly these three distributions per
// fragment. The header's own accumulator also tracks a median, but its
// comment notes that accumulator "doesn't compile" -- median is dropped
// here rather than reintroducing it from scratch.
type fragmentSummary struct {
	bytesAssigned    *summaryStats
	completionTimeNs *summaryStats
	bytesPerSecond   *summaryStats
}

func newFragmentSummary() *fragmentSummary {
	return &fragmentSummary{
		bytesAssigned:    newSummaryStats(),
		completionTimeNs: newSummaryStats(),
		bytesPerSecond:   newSummaryStats(),
	}
}

func (fs *fragmentSummary) addInstance(bytesAssigned int64, elapsed time.Duration) {
	fs.bytesAssigned.add(bytesAssigned)
	fs.completionTimeNs.add(elapsed.Nanoseconds())
	var rate int64
	if secs := elapsed.Seconds(); secs > 0 {
		rate = int64(float64(bytesAssigned) / secs)
	}
	fs.bytesPerSecond.add(rate)
}

// FragmentSummarySnapshot is one fragment's entry in a QuerySummary.
type FragmentSummarySnapshot struct {
	FragmentIndex  communication.FragmentIndex
	BytesAssigned  summaryStatsSnapshot
	CompletionTime summaryStatsSnapshot // nanoseconds
	BytesPerSecond summaryStatsSnapshot
}

// QuerySummary is the end-of-query report produced by ReportQuerySummary:
// one FragmentSummarySnapshot per fragment that had at least one instance
// report done.
type QuerySummary struct {
	Fragments []FragmentSummarySnapshot
}

// fragmentStatsRegistry owns one fragmentSummary per fragment index,
// created lazily on first use so fragments that never dispatch an instance
// (e.g. the root fragment, which runs locally) simply never appear in the
// final summary.
type fragmentStatsRegistry struct {
	mu    sync.Mutex
	byIdx map[communication.FragmentIndex]*fragmentSummary
}

func newFragmentStatsRegistry() *fragmentStatsRegistry {
	return &fragmentStatsRegistry{byIdx: make(map[communication.FragmentIndex]*fragmentSummary)}
}

func (r *fragmentStatsRegistry) recordInstanceDone(idx communication.FragmentIndex, bytesAssigned int64, elapsed time.Duration) {
	r.mu.Lock()
	fs, ok := r.byIdx[idx]
	if !ok {
		fs = newFragmentSummary()
		r.byIdx[idx] = fs
	}
	r.mu.Unlock()
	fs.addInstance(bytesAssigned, elapsed)
}

func (r *fragmentStatsRegistry) snapshot() []FragmentSummarySnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]FragmentSummarySnapshot, 0, len(r.byIdx))
	for idx, fs := range r.byIdx {
		out = append(out, FragmentSummarySnapshot{
			FragmentIndex:  idx,
			BytesAssigned:  fs.bytesAssigned.snapshot(),
			CompletionTime: fs.completionTimeNs.snapshot(),
			BytesPerSecond: fs.bytesPerSecond.snapshot(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FragmentIndex < out[j].FragmentIndex })
	return out
}

// ReportQuerySummary assembles the end-of-query per-fragment summary.
// Meaningful once Wait has returned successfully; called any earlier, it
// simply reflects whichever instances have reported done so far.
func (c *Coordinator) ReportQuerySummary() QuerySummary {
	return QuerySummary{Fragments: c.fragmentStats.snapshot()}
}

// QueryProfile is the client-visible aggregate profile. InstanceCount and
// InstancesDone are computed on read from the live BackendExecStates.
// BytesRead, RowsProduced and BytesPerScanRange are running totals added to
// as reports and row batches arrive, not sums over per-instance counters; a
// scan-range completion that is reported twice is counted twice in them.
// ScanRangesCompleted comes from the ProgressUpdater, which counts each
// ordinal once.
type QueryProfile struct {
	BytesRead            int64
	RowsProduced         int64
	ScanRangesCompleted  int64
	ScanRangesTotal      int64
	BytesPerScanRange    summaryStatsSnapshot
	InstanceCount        int
	InstancesDone        int
}

// QueryProfile assembles the current aggregate profile.
func (c *Coordinator) QueryProfile() QueryProfile {
	completed, total := c.progress.Snapshot()
	states := c.pool.backendStates()
	done := 0
	for _, s := range states {
		if s.isDone() {
			done++
		}
	}
	return QueryProfile{
		BytesRead:           c.metrics.bytesRead.Load(),
		RowsProduced:        c.metrics.rowsProduced.Load(),
		ScanRangesCompleted: completed,
		ScanRangesTotal:     total,
		BytesPerScanRange:   c.metrics.bytesPerRange.snapshot(),
		InstanceCount:       len(states),
		InstancesDone:       done,
	}
}
