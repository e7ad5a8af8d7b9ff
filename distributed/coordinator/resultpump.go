package coordinator

import (
	"context"

	"github.com/cloudimpl/distq/core"
)

// Wait blocks until the query is ready to produce results (or has failed):
// for a root-fragment query, until the root fragment has opened; for a
// sink-only query (e.g. an INSERT with no root fragment), until every
// remote instance has reported done. It is safe to call more than once;
// only the first call does any work. Grounded on coordinator.h's Wait()
// (lines 470-495) and its explicit note that Wait does not itself wait for
// every backend when a root fragment exists -- only GetNext's EOS path
// does that.
func (c *Coordinator) Wait(ctx context.Context) core.Status {
	c.waitMu.Lock()
	defer c.waitMu.Unlock()

	if c.hasCalledWait {
		return c.currentStatus()
	}
	c.hasCalledWait = true

	if c.rootExecutor != nil {
		if err := c.rootExecutor.Open(ctx); err != nil {
			return c.UpdateStatus(core.FromError(err), nil)
		}
	} else {
		c.WaitForAllBackends()
	}

	if c.rootExecutor == nil {
		status := c.currentStatus()
		if c.needsFinalization && status.IsOK() {
			status = c.FinalizeQuery()
		}
		if status.IsOK() {
			c.recordTerminal(status)
		}
		return status
	}
	return c.currentStatus()
}

// WaitForAllBackends blocks until every dispatched fragment instance has
// reported done, or the query status has left OK. GetNext's EOS path and a
// sink-only Wait both call it, from outside any lock they already hold.
func (c *Coordinator) WaitForAllBackends() core.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.remainingBackends.Load() > 0 && c.queryStatus.IsOK() {
		c.cond.Wait()
	}
	return c.queryStatus
}

// GetNext returns the next row batch from the root fragment, or (nil, OK)
// at end of stream. It is not safe to call concurrently with itself.
// Grounded on coordinator.h's GetNext (lines 497-530): a query with no root
// fragment (a pure sink, e.g. INSERT ... SELECT) is already fully done by
// the time Wait returns, so the first GetNext call immediately reports EOS.
func (c *Coordinator) GetNext(ctx context.Context) (*core.RowBatch, core.Status) {
	if c.rootExecutor == nil {
		c.markReturnedAllResults()
		return nil, c.currentStatus()
	}

	batch, err := c.rootExecutor.GetNext(ctx)
	if err != nil {
		return nil, c.UpdateStatus(core.FromError(err), nil)
	}
	if batch != nil {
		c.metrics.rowsProduced.Add(int64(batch.Count()))
		return batch, c.currentStatus()
	}

	// EOS: only now do we require every remote instance to have
	// finished, since the root fragment may legitimately finish
	// consuming its exchange input slightly before the last sender's
	// completion report lands.
	c.markReturnedAllResults()
	status := c.WaitForAllBackends()
	if status.IsOK() && c.needsFinalization {
		status = c.FinalizeQuery()
	}
	if status.IsOK() {
		c.recordTerminal(status)
	}
	return nil, status
}

func (c *Coordinator) markReturnedAllResults() {
	c.returnedAllResults.Store(true)
}

func (c *Coordinator) currentStatus() core.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queryStatus
}
