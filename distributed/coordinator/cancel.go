package coordinator

import (
	"context"
	"sort"
	"time"

	"github.com/cloudimpl/distq/core"
)

// Cancel requests query cancellation. It is idempotent and safe to call
// concurrently with Wait/GetNext/UpdateFragmentExecStatus from any
// goroutine, including a second concurrent call to Cancel itself: only the
// first caller (of any of these) to observe an OK status ever runs the
// cancellation side effects, via UpdateStatus's first-error-wins guard.
func (c *Coordinator) Cancel() {
	c.UpdateStatus(core.Cancelled(), nil)
}

// cancelInternalLocked runs with the coordinator lock held (by UpdateStatus)
// and must never itself block on the network: it only flips local state and
// launches background work. Grounded on coordinator.h's CancelInternal
// (lines 392-410).
func (c *Coordinator) cancelInternalLocked() {
	if c.rootExecutor != nil {
		c.rootExecutor.Cancel()
	}
	c.cancelRemoteFragmentsLocked()
	c.cond.Broadcast()
}

// cancelRemoteFragmentsLocked launches one goroutine per not-yet-done
// backend, started in ascending backend_num order, matching the ordering
// coordinator.h describes for CancelInternal. Each goroutine acquires only
// its own BackendExecState lock before issuing the RPC -- never the
// coordinator lock -- so a cancel RPC to one worker can never be blocked by,
// or block, a status report or dispatch RPC for another.
func (c *Coordinator) cancelRemoteFragmentsLocked() {
	states := c.pool.backendStates()
	sort.Slice(states, func(i, j int) bool { return states[i].BackendNum < states[j].BackendNum })
	for _, bes := range states {
		if bes.isDone() {
			continue
		}
		go func(bes *BackendExecState) {
			bes.mu.Lock()
			defer bes.mu.Unlock()
			if bes.done {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if c.reg != nil {
				c.reg.InstancesCancelled.Inc()
			}
			if err := bes.Client.CancelPlanFragment(ctx, string(bes.InstanceID)); err != nil {
				core.GetTracer().Warn(core.TraceComponentCancel, "cancel RPC failed",
					core.TraceContext("instance_id", bes.InstanceID, "error", err.Error()))
			}
		}(bes)
	}
}
