package worker

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudimpl/distq/core"
	"github.com/cloudimpl/distq/distributed/communication"
)

// fakeCoordinatorClient records every report it receives, standing in for a
// real coordinator connection in tests that only care what a worker reports.
type fakeCoordinatorClient struct {
	mu      sync.Mutex
	reports []*communication.ReportExecStatusParams
	closed  bool
}

func (c *fakeCoordinatorClient) UpdateFragmentExecStatus(ctx context.Context, params *communication.ReportExecStatusParams) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, params)
	return nil
}

func (c *fakeCoordinatorClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeCoordinatorClient) firstReport() *communication.ReportExecStatusParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.reports) == 0 {
		return nil
	}
	return c.reports[0]
}

// newWorkerWithClient registers recorder directly as the coordinator
// service behind "coord-0": fakeCoordinatorClient's method set already
// satisfies communication.CoordinatorService (a strict subset of
// CoordinatorClient), so no separate service adapter is needed.
func newWorkerWithClient(t *testing.T, recorder *fakeCoordinatorClient) (*Worker, *communication.MemoryTransport) {
	t.Helper()
	tp := communication.NewMemoryTransport()
	tp.RegisterCoordinator("coord-0", recorder)
	return NewWorker("worker-0", "", tp), tp
}

func TestExecPlanFragmentReportsErrorForMissingFile(t *testing.T) {
	recorder := &fakeCoordinatorClient{}
	w, _ := newWorkerWithClient(t, recorder)

	params := &communication.ExecPlanFragmentParams{
		QueryID:            core.NewQueryID(),
		InstanceID:         core.NewInstanceID(),
		CoordinatorAddress: "coord-0",
		TablePath:          "/nonexistent/path/does-not-exist.parquet",
		ScanRanges: communication.PerNodeScanRanges{
			0: {{Path: "/nonexistent/path/does-not-exist.parquet", Offset: 0, Length: 10, Ordinal: 0}},
		},
	}

	if err := w.ExecPlanFragment(context.Background(), params); err != nil {
		t.Fatalf("ExecPlanFragment returned an error synchronously: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var report *communication.ReportExecStatusParams
	for time.Now().Before(deadline) {
		if report = recorder.firstReport(); report != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if report == nil {
		t.Fatalf("worker never reported status back to the coordinator")
	}
	if !report.Done {
		t.Fatalf("report.Done = false, want true")
	}
	if report.StatusMessage == "" {
		t.Fatalf("expected a status message describing the missing file")
	}
	if len(report.ErrorLog) == 0 {
		t.Fatalf("expected a non-empty error log")
	}
}

func TestExecPlanFragmentSucceedsWithNoScanRanges(t *testing.T) {
	recorder := &fakeCoordinatorClient{}
	w, _ := newWorkerWithClient(t, recorder)

	params := &communication.ExecPlanFragmentParams{
		QueryID:            core.NewQueryID(),
		InstanceID:         core.NewInstanceID(),
		CoordinatorAddress: "coord-0",
	}

	if err := w.ExecPlanFragment(context.Background(), params); err != nil {
		t.Fatalf("ExecPlanFragment: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var report *communication.ReportExecStatusParams
	for time.Now().Before(deadline) {
		if report = recorder.firstReport(); report != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if report == nil {
		t.Fatalf("worker never reported status back to the coordinator")
	}
	if report.StatusMessage != "" {
		t.Fatalf("unexpected failure with no scan ranges: %s", report.StatusMessage)
	}
	if len(report.Profile) == 0 {
		t.Fatalf("expected a non-empty profile snapshot")
	}
}

func TestExecPlanFragmentUnknownCoordinatorFails(t *testing.T) {
	tp := communication.NewMemoryTransport()
	w := NewWorker("worker-0", "", tp)

	params := &communication.ExecPlanFragmentParams{
		QueryID:            core.NewQueryID(),
		InstanceID:         core.NewInstanceID(),
		CoordinatorAddress: "no-such-coordinator",
	}
	if err := w.ExecPlanFragment(context.Background(), params); err == nil {
		t.Fatalf("expected an error dialing an unregistered coordinator")
	}
}

func TestCancelPlanFragmentUnknownInstanceIsNotAnError(t *testing.T) {
	tp := communication.NewMemoryTransport()
	w := NewWorker("worker-0", "", tp)
	if err := w.CancelPlanFragment(context.Background(), string(core.NewInstanceID())); err != nil {
		t.Fatalf("CancelPlanFragment on an unknown instance should be a no-op, got %v", err)
	}
}

func TestHealthReflectsDataPathAndStatus(t *testing.T) {
	tp := communication.NewMemoryTransport()
	w := NewWorker("worker-0", "", tp)
	if err := w.Health(context.Background()); err != nil {
		t.Fatalf("Health() with no data path configured should pass, got %v", err)
	}

	w2 := NewWorker("worker-1", "/nonexistent/data/path", tp)
	if err := w2.Health(context.Background()); err == nil {
		t.Fatalf("Health() should fail when the configured data path doesn't exist")
	}
}

func TestShutdownCancelsRunningInstancesAndMarksStopped(t *testing.T) {
	recorder := &fakeCoordinatorClient{}
	w, _ := newWorkerWithClient(t, recorder)

	instanceID := core.NewInstanceID()
	var cancelled bool
	w.mu.Lock()
	w.running[instanceID] = func() { cancelled = true }
	w.mu.Unlock()

	if err := w.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !cancelled {
		t.Fatalf("Shutdown should have cancelled the running instance")
	}
	if err := w.Health(context.Background()); err == nil || !strings.Contains(err.Error(), "not active") {
		t.Fatalf("Health() after Shutdown should report not-active, got %v", err)
	}
}

func TestIDReturnsConfiguredIdentifier(t *testing.T) {
	tp := communication.NewMemoryTransport()
	w := NewWorker("worker-42", "", tp)
	if w.ID() != "worker-42" {
		t.Fatalf("ID() = %q, want %q", w.ID(), "worker-42")
	}
}
