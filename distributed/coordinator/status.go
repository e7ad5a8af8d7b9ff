package coordinator

import (
	"context"
	"fmt"

	"github.com/cloudimpl/distq/core"
	"github.com/cloudimpl/distq/distributed/communication"
)

// UpdateFragmentExecStatus implements communication.CoordinatorService: it
// is the sole entry point through which a worker reports instance progress,
// completion, or failure. Grounded on coordinator.h's UpdateBackendExecStatus
// (lines 340-365).
func (c *Coordinator) UpdateFragmentExecStatus(ctx context.Context, report *communication.ReportExecStatusParams) error {
	c.mu.Lock()
	bes, ok := c.backendByInstance[report.InstanceID]
	c.mu.Unlock()
	if !ok {
		core.GetTracer().Warn(core.TraceComponentStatus, "status report for unknown instance",
			core.TraceContext("instance_id", report.InstanceID))
		return core.ErrStaleReport
	}

	becameDone, reportedStatus, wasAlreadyDone := bes.applyReport(report)
	if wasAlreadyDone {
		// late reports on a done instance only extend the error log
		// (already handled inside applyReport); they never resurrect
		// counters or flip status.
		return nil
	}

	if c.rootExecutor == nil && (len(report.PartitionRowCounts) > 0 || len(report.FilesToMove) > 0) {
		c.mu.Lock()
		for partition, n := range report.PartitionRowCounts {
			c.partitionRowCounts[partition] += n
		}
		c.filesToMove = append(c.filesToMove, report.FilesToMove...)
		c.mu.Unlock()
	}

	if len(report.CompletedScanRanges) > 0 {
		var bytes int64
		for _, sr := range report.CompletedScanRanges {
			bytes += sr.BytesRead
			c.metrics.recordScanRangeCompletion(sr.BytesRead)
		}
		c.progress.markComplete(report.CompletedScanRanges)
		if c.reg != nil {
			c.reg.ScanRangesCompleted.Add(float64(len(report.CompletedScanRanges)))
			c.reg.BytesRead.Add(float64(bytes))
		}
		core.GetTracer().Debug(core.TraceComponentStatus, "scan ranges completed",
			core.TraceContext("instance_id", report.InstanceID, "count", len(report.CompletedScanRanges), "bytes", bytes))
	}

	if becameDone {
		c.fragmentStats.recordInstanceDone(bes.FragmentIndex, bes.BytesAssigned, bes.elapsedSinceDispatch())
		remaining := c.remainingBackends.Add(-1)
		core.GetTracer().Info(core.TraceComponentStatus, "instance done",
			core.TraceContext("instance_id", report.InstanceID, "remaining", remaining))
		if remaining <= 0 {
			c.mu.Lock()
			c.cond.Broadcast()
			c.mu.Unlock()
		}
	}

	if !reportedStatus.IsOK() {
		if c.reg != nil {
			c.reg.InstancesFailed.Inc()
		}
		c.UpdateStatus(reportedStatus, &report.InstanceID)
	}
	return nil
}

// UpdateStatus is the sole place query_status_ ever transitions from OK to
// non-OK, and the sole place cancellation is initiated. Every later
// caller's status (whether the same error or a different one) is discarded:
// first error wins, per the invariant in coordinator.h (lines 372-390).
func (c *Coordinator) UpdateStatus(status core.Status, failedInstance *core.InstanceID) core.Status {
	if status.IsOK() {
		return c.currentStatus()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.queryStatus.IsOK() {
		return c.queryStatus
	}

	if c.returnedAllResults.Load() {
		// the client has already consumed EOS; a late failure from a
		// straggling backend is logged, not surfaced, since there is
		// no longer anyone to report it to.
		if failedInstance != nil {
			c.errorLog = append(c.errorLog, fmt.Sprintf(
				"late error from instance %s after results were fully returned: %v", *failedInstance, status))
		}
		return c.queryStatus
	}

	c.queryStatus = status
	if failedInstance != nil {
		c.errorLog = append(c.errorLog, fmt.Sprintf("instance %s: %v", *failedInstance, status))
	} else {
		c.errorLog = append(c.errorLog, status.Error())
	}

	core.GetTracer().Error(core.TraceComponentStatus, "query status set to non-OK",
		core.TraceContext("code", status.Code.String(), "cause", status.Error()))

	c.cancelInternalLocked()
	c.recordTerminal(status)
	return c.queryStatus
}
