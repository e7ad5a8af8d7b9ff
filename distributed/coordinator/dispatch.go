package coordinator

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudimpl/distq/core"
	"github.com/cloudimpl/distq/distributed/communication"
)

type dispatchResult struct {
	instanceID core.InstanceID
	status     core.Status
}

// dispatch fans out ExecPlanFragment to every BackendExecState concurrently.
// Each goroutine holds only that instance's own lock across the RPC, never
// the coordinator lock, so a slow or hung worker cannot stall status
// reports or cancellation for any other instance. Grounded on
// coordinator.h's StartBackendExec (a per-backend goroutine pool) and on
// the teacher's parallel query-fragment dispatch in coordinator.go.
func (c *Coordinator) dispatch(ctx context.Context) core.Status {
	states := c.pool.backendStates()
	if len(states) == 0 {
		return core.OK
	}

	results := make(chan dispatchResult, len(states))
	var wg sync.WaitGroup
	for _, bes := range states {
		wg.Add(1)
		go func(bes *BackendExecState) {
			defer wg.Done()
			params, err := c.buildExecParams(bes)
			if err != nil {
				status := core.FromError(fmt.Errorf("instance %s: %w", bes.InstanceID, err))
				bes.recordDispatchResult(status)
				if c.reg != nil {
					c.reg.InstancesDispatched.Inc()
					c.reg.InstancesFailed.Inc()
				}
				results <- dispatchResult{instanceID: bes.InstanceID, status: status}
				return
			}

			bes.mu.Lock()
			err = bes.Client.ExecPlanFragment(ctx, params)
			bes.mu.Unlock()

			status := core.FromError(err)
			bes.recordDispatchResult(status)
			if c.reg != nil {
				c.reg.InstancesDispatched.Inc()
				if !status.IsOK() {
					c.reg.InstancesFailed.Inc()
				}
			}
			results <- dispatchResult{instanceID: bes.InstanceID, status: status}

			core.GetTracer().Debug(core.TraceComponentDispatch, "dispatched fragment instance",
				core.TraceContext("instance_id", bes.InstanceID, "backend_num", bes.BackendNum, "ok", status.IsOK()))
		}(bes)
	}

	wg.Wait()
	close(results)

	first := core.OK
	var failedInstance core.InstanceID
	for r := range results {
		if !r.status.IsOK() && first.IsOK() {
			first = r.status
			failedInstance = r.instanceID
		}
		if !r.status.IsOK() {
			// a fragment that never started will never report Done,
			// so it must not be counted among remainingBackends.
			c.remainingBackends.Add(-1)
		}
	}

	if !first.IsOK() {
		return c.UpdateStatus(first, &failedInstance)
	}
	return c.currentStatus()
}

// buildExecParams assembles the RPC payload for one backend from the
// placement computed during Exec. It fails if the instance's scan-range
// assignment cannot be encoded onto the wire, rather than dispatching the
// instance with an empty assignment it would silently read nothing from.
func (c *Coordinator) buildExecParams(bes *BackendExecState) (*communication.ExecPlanFragmentParams, error) {
	fp := c.fragmentPlacement[bes.FragmentIndex]
	params := &communication.ExecPlanFragmentParams{
		QueryID:            c.queryID,
		FragmentIndex:      bes.FragmentIndex,
		InstanceID:         bes.InstanceID,
		BackendNum:         bes.BackendNum,
		Destinations:       fp.Destinations,
		PerExchNumSenders:  fp.PerExchNumSenders,
		CoordinatorAddress: c.coordinatorAddress,
		QueryOptions:       c.request.QueryOptions,
		TablePath:          c.fragmentByIndex[bes.FragmentIndex].TablePath,
		Columns:            c.fragmentByIndex[bes.FragmentIndex].Columns,
	}

	if scans, ok := c.scanAssignment[bes.FragmentIndex]; ok {
		if ranges, ok := scans[bes.Host]; ok {
			if err := communication.EncodeScanRanges(params, ranges); err != nil {
				return nil, fmt.Errorf("encode scan ranges: %w", err)
			}
		}
	}
	return params, nil
}
