// Package coordinator implements the distributed query coordinator: given
// a plan-fragment tree and per-scan scan-range locations, it places
// fragment instances on workers, dispatches them, tracks their progress and
// first-error status, and drives the client-visible Wait/GetNext/Cancel
// lifecycle. Grounded on the teacher's distributed/coordinator package,
// generalized from single-node SQL execution to Impala-style distributed
// plan-fragment coordination, and on original_source/be/src/runtime/
// coordinator.h for the parts the teacher never had to solve.
package coordinator

import (
	"context"
	"sync"

	"github.com/cloudimpl/distq/core"
	"github.com/cloudimpl/distq/distributed/communication"
	"github.com/cloudimpl/distq/distributed/monitoring"
	"github.com/cloudimpl/distq/distributed/scheduler"
	uatomic "go.uber.org/atomic"
)

// Coordinator drives one query's distributed execution from placement
// through finalization. A Coordinator is single-use: create one per query
// with New, call Exec once, then Wait/GetNext/Cancel as needed.
type Coordinator struct {
	queryID            core.QueryID
	coordinatorAddress string
	transport          communication.Transport
	scheduler          scheduler.HostSelector

	request         *communication.QueryExecRequest
	fragmentByIndex map[communication.FragmentIndex]communication.Fragment
	fragmentPlacement map[communication.FragmentIndex]*communication.FragmentExecParams
	scanAssignment  map[communication.FragmentIndex]scanRangeAssignment
	needsFinalization bool

	rootExecutor RootFragmentExecutor

	pool              *objectPool
	backendByInstance map[core.InstanceID]*BackendExecState
	uniqueHosts       map[string]struct{}

	numBackends        uatomic.Int64
	remainingBackends  uatomic.Int64
	returnedAllResults uatomic.Bool
	finalized          uatomic.Bool
	terminalRecorded   uatomic.Bool

	waitMu       sync.Mutex
	hasCalledWait bool

	mu                sync.Mutex
	cond              *sync.Cond
	queryStatus       core.Status
	errorLog          []string
	partitionRowCounts map[string]int64
	filesToMove       []communication.FileMove
	catalogUpdate     *communication.CatalogUpdate

	progress      *ProgressUpdater
	metrics       *queryMetrics
	fragmentStats *fragmentStatsRegistry
	reg           *monitoring.Registry
}

// New creates a coordinator for a fresh query. transport is used both to
// reach workers (dispatch, cancel) and to accept their status reports: the
// coordinator registers itself as a communication.CoordinatorService at
// coordinatorAddress. rootExecutor is nil for a query with no root
// fragment (a pure DML sink).
func New(transport communication.Transport, sel scheduler.HostSelector, coordinatorAddress string, rootExecutor RootFragmentExecutor) (*Coordinator, error) {
	c := &Coordinator{
		queryID:            core.NewQueryID(),
		coordinatorAddress: coordinatorAddress,
		transport:          transport,
		scheduler:          sel,
		rootExecutor:       rootExecutor,
		pool:               newObjectPool(),
		backendByInstance:  make(map[core.InstanceID]*BackendExecState),
		uniqueHosts:        make(map[string]struct{}),
		queryStatus:        core.OK,
		partitionRowCounts: make(map[string]int64),
		progress:           newProgressUpdater(),
		metrics:            newQueryMetrics(),
		fragmentStats:      newFragmentStatsRegistry(),
	}
	c.cond = sync.NewCond(&c.mu)

	if err := transport.StartCoordinatorServer(coordinatorAddress, c); err != nil {
		return nil, err
	}
	return c, nil
}

// SetMetrics attaches a Prometheus registry this coordinator should report
// to. It is optional; a coordinator with no registry attached simply skips
// the increments. Must be called before Exec.
func (c *Coordinator) SetMetrics(reg *monitoring.Registry) {
	c.reg = reg
}

// QueryID returns this coordinator's query id.
func (c *Coordinator) QueryID() core.QueryID { return c.queryID }

// UniqueHosts returns every host running at least one fragment instance of
// this query, including the coordinator itself for a query with a root
// fragment.
func (c *Coordinator) UniqueHosts() []string {
	hosts := make([]string, 0, len(c.uniqueHosts))
	for h := range c.uniqueHosts {
		hosts = append(hosts, h)
	}
	return hosts
}

// Progress reports (completed, total) scan ranges across the whole query.
func (c *Coordinator) Progress() (completed, total int64) {
	return c.progress.Snapshot()
}

// NumBackends returns the fixed count of fragment instances dispatched at
// Exec time. Unlike RemainingBackends it never changes once Exec returns,
// which makes it the right value for the end-of-query summary and for
// telling "no fragments were ever dispatched" (NumBackends == 0) apart from
// "every dispatched instance has already finished" (RemainingBackends == 0).
func (c *Coordinator) NumBackends() int64 { return c.numBackends.Load() }

// RemainingBackends returns the live count of dispatched instances that
// have not yet reported done.
func (c *Coordinator) RemainingBackends() int64 { return c.remainingBackends.Load() }

// PartitionRowCounts returns a snapshot of accumulated per-partition row
// counts, meaningful for INSERT-style queries.
func (c *Coordinator) PartitionRowCounts() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.partitionRowCounts))
	for k, v := range c.partitionRowCounts {
		out[k] = v
	}
	return out
}

// GetErrorLog returns every error line accumulated so far: the
// coordinator's own log (the query's terminal failure, if any, plus any
// late errors absorbed after the query had already returned all results),
// followed by each BackendExecState's error log in backend_num order.
func (c *Coordinator) GetErrorLog() []string {
	c.mu.Lock()
	out := append([]string(nil), c.errorLog...)
	c.mu.Unlock()
	for _, bes := range c.pool.backendStates() {
		_, _, _, errorLog, _ := bes.snapshot()
		out = append(out, errorLog...)
	}
	return out
}

// Status returns the current query status.
func (c *Coordinator) Status() core.Status {
	return c.currentStatus()
}

// Exec computes placement for req, dispatches every remote fragment
// instance, and (for a root-fragment query) prepares the local root
// executor to be opened by Wait. It does not block for the query to finish;
// use Wait/GetNext for that. Grounded on coordinator.h's Exec (lines
// 262-300).
func (c *Coordinator) Exec(ctx context.Context, req *communication.QueryExecRequest) core.Status {
	if req == nil || len(req.Fragments) == 0 {
		return c.UpdateStatus(core.FromError(core.ErrNoRootOrSink), nil)
	}
	hasRoot := false
	for _, f := range req.Fragments {
		if f.IsRoot {
			hasRoot = true
		}
	}
	if !hasRoot && !req.NeedsFinalization {
		return c.UpdateStatus(core.FromError(core.ErrNoRootOrSink), nil)
	}
	if req.NeedsFinalization && req.FinalizeParams == nil {
		return c.UpdateStatus(core.FromError(core.ErrMissingFinalizeParams), nil)
	}

	c.request = req
	c.needsFinalization = req.NeedsFinalization
	c.fragmentByIndex = make(map[communication.FragmentIndex]communication.Fragment, len(req.Fragments))
	for _, f := range req.Fragments {
		c.fragmentByIndex[f.Index] = f
	}

	placements, err := computeFragmentHosts(req, c.coordinatorAddress, c.scheduler)
	if err != nil {
		return c.UpdateStatus(core.FromError(err), nil)
	}
	assigned, err := assignInstances(placements)
	if err != nil {
		return c.UpdateStatus(core.FromError(err), nil)
	}

	c.fragmentPlacement = assigned.perFragment
	c.scanAssignment = assigned.perFragmentScans
	c.progress.setTotal(assigned.totalScanRanges)

	for _, host := range assigned.instanceHosts {
		c.uniqueHosts[host] = struct{}{}
	}

	for _, instanceID := range assigned.order {
		host := assigned.instanceHosts[instanceID]
		fragIdx := assigned.instanceFragment[instanceID]
		client, err := c.transport.NewWorkerClient(host)
		if err != nil {
			return c.UpdateStatus(core.FromError(err), nil)
		}
		var bytesAssigned int64
		if scans, ok := c.scanAssignment[fragIdx]; ok {
			bytesAssigned = scanBytesAssigned(scans[host])
		}
		bes := newBackendExecState(assigned.backendNumOf[instanceID], fragIdx, instanceID, host, client, bytesAssigned)
		c.pool.addBackendState(bes)
		c.backendByInstance[instanceID] = bes
	}
	c.numBackends.Store(int64(len(c.pool.backendStates())))
	c.remainingBackends.Store(int64(len(c.pool.backendStates())))

	core.GetTracer().Info(core.TraceComponentCoordinator, "query placed",
		core.TraceContext("query_id", c.queryID, "instances", len(assigned.order), "hosts", len(c.uniqueHosts)))

	if c.reg != nil {
		c.reg.QueriesStarted.Inc()
		c.reg.ActiveQueries.Inc()
	}

	return c.dispatch(ctx)
}

// recordTerminal reports this query's outcome to the attached metrics
// registry exactly once, whichever of Cancel/UpdateStatus/GetNext-EOS gets
// there first.
func (c *Coordinator) recordTerminal(status core.Status) {
	if c.reg == nil || !c.terminalRecorded.CompareAndSwap(false, true) {
		return
	}
	c.reg.ActiveQueries.Dec()
	switch {
	case status.IsOK():
		c.reg.QueriesSucceeded.Inc()
	case status.Code == core.CodeCancelled:
		c.reg.QueriesCancelled.Inc()
	default:
		c.reg.QueriesFailed.Inc()
	}
}

// Close releases resources held on behalf of this query (worker client
// connections). Call it once Wait/GetNext have returned a terminal status.
func (c *Coordinator) Close() error {
	c.pool.close()
	return c.transport.Stop()
}
