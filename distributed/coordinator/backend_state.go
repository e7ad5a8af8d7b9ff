package coordinator

import (
	"sync"
	"time"

	"github.com/cloudimpl/distq/core"
	"github.com/cloudimpl/distq/distributed/communication"
)

// BackendExecState tracks one fragment instance running on one worker. Its
// lock protects everything a status report can touch; the coordinator's own
// lock protects query-wide state (query status, remaining count, partition
// maps). Grounded on coordinator.h's per-instance state (lines 219-258) and
// on the teacher's WorkerConnection struct for the lock+cached-status shape.
type BackendExecState struct {
	BackendNum    int
	FragmentIndex communication.FragmentIndex
	InstanceID    core.InstanceID
	Host          string
	Client        communication.WorkerClient
	// BytesAssigned is the total scan-range length placed on this
	// instance at dispatch time, fed into the fragment's summary stats
	// when the instance reports done.
	BytesAssigned int64

	mu           sync.Mutex
	lastStatus   core.Status
	done         bool
	dispatchedAt time.Time
	profile      []byte
	profileCodec string
	errorLog     []string
}

func newBackendExecState(backendNum int, fragIdx communication.FragmentIndex, instanceID core.InstanceID, host string, client communication.WorkerClient, bytesAssigned int64) *BackendExecState {
	return &BackendExecState{
		BackendNum:    backendNum,
		FragmentIndex: fragIdx,
		InstanceID:    instanceID,
		Host:          host,
		Client:        client,
		BytesAssigned: bytesAssigned,
		lastStatus:    core.OK,
	}
}

// recordDispatchResult records the outcome of the ExecPlanFragment RPC.
func (b *BackendExecState) recordDispatchResult(status core.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastStatus = status
	b.dispatchedAt = time.Now()
	if !status.IsOK() {
		// a fragment that never started is trivially done: no further
		// reports will ever arrive from it.
		b.done = true
	}
}

// elapsedSinceDispatch returns how long this instance has been running
// since it was dispatched, or 0 if it was never dispatched.
func (b *BackendExecState) elapsedSinceDispatch() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dispatchedAt.IsZero() {
		return 0
	}
	return time.Since(b.dispatchedAt)
}

// applyReport merges a status report into this instance's state. If the
// instance is already done, only the error log is extended (per the report
// contract's late-report tolerance) and wasAlreadyDone is true.
func (b *BackendExecState) applyReport(report *communication.ReportExecStatusParams) (becameDone bool, reportedStatus core.Status, wasAlreadyDone bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done {
		b.errorLog = append(b.errorLog, report.ErrorLog...)
		return false, core.OK, true
	}

	if len(report.Profile) > 0 {
		b.profile = report.Profile
		b.profileCodec = report.ProfileCodec
	}
	b.errorLog = append(b.errorLog, report.ErrorLog...)

	if report.StatusMessage != "" {
		reportedStatus = core.Errorf("%s", report.StatusMessage)
		b.lastStatus = reportedStatus
	} else {
		reportedStatus = core.OK
	}

	if report.Done {
		b.done = true
		becameDone = true
	}
	return
}

func (b *BackendExecState) isDone() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

func (b *BackendExecState) snapshot() (status core.Status, profile []byte, profileCodec string, errorLog []string, done bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastStatus, b.profile, b.profileCodec, append([]string(nil), b.errorLog...), b.done
}
