// Package worker provides a reference WorkerService implementation: given
// scan ranges assigned by the coordinator, it reads them and reports
// completion back over a CoordinatorClient. It exists so the coordinator
// package has something real to dispatch to in tests and in
// cmd/coordinatord; a production worker (the actual per-fragment executor)
// is out of scope, per the spec.
package worker

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"howett.net/ranger"

	"github.com/cloudimpl/distq/core"
	"github.com/cloudimpl/distq/distributed/communication"
)

// Worker executes fragment instances assigned to it and reports their
// outcome back to whichever coordinator dispatched them. Grounded on
// backend/distributed/worker/worker.go's struct shape (id, dataPath,
// activeQueries counter, resources) and tracer usage, generalized from
// "execute one SQL string" to "read the scan ranges assigned to this
// instance".
type Worker struct {
	id        string
	dataPath  string
	transport communication.Transport
	resources communication.WorkerResources

	mu            sync.Mutex
	status        string
	activeQueries int
	lastActivity  time.Time
	running       map[core.InstanceID]context.CancelFunc
}

// NewWorker creates a worker that reads local scan ranges under dataPath
// and dials coordinators through transport to report status.
func NewWorker(id, dataPath string, transport communication.Transport) *Worker {
	core.GetTracer().Info(core.TraceComponentWorker, "initializing worker",
		core.TraceContext("worker_id", id, "data_path", dataPath))

	return &Worker{
		id:           id,
		dataPath:     dataPath,
		transport:    transport,
		status:       "active",
		lastActivity: time.Now(),
		running:      make(map[core.InstanceID]context.CancelFunc),
		resources: communication.WorkerResources{
			CPUCores: runtime.NumCPU(),
			MemoryMB: 1024,
		},
	}
}

// ExecPlanFragment implements communication.WorkerService. It starts
// reading the instance's scan ranges in the background and returns once
// the goroutine has been launched, matching the RPC's documented
// fire-and-report contract: the caller learns the outcome later via
// UpdateFragmentExecStatus, not from this call's return value.
func (w *Worker) ExecPlanFragment(ctx context.Context, params *communication.ExecPlanFragmentParams) error {
	ranges, err := communication.DecodeScanRanges(params)
	if err != nil {
		return fmt.Errorf("worker %s: %w", w.id, err)
	}

	client, err := w.transport.NewCoordinatorClient(params.CoordinatorAddress)
	if err != nil {
		return fmt.Errorf("worker %s: dial coordinator: %w", w.id, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	w.mu.Lock()
	w.running[params.InstanceID] = cancel
	w.activeQueries++
	w.lastActivity = time.Now()
	w.mu.Unlock()

	core.GetTracer().Info(core.TraceComponentWorker, "fragment instance started",
		core.TraceContext("worker_id", w.id, "instance_id", params.InstanceID, "fragment_index", params.FragmentIndex))

	go w.run(runCtx, client, params, ranges)
	return nil
}

func (w *Worker) run(ctx context.Context, client communication.CoordinatorClient, params *communication.ExecPlanFragmentParams, ranges communication.PerNodeScanRanges) {
	defer func() {
		w.mu.Lock()
		delete(w.running, params.InstanceID)
		w.activeQueries--
		w.mu.Unlock()
		client.Close()
	}()

	report := &communication.ReportExecStatusParams{
		QueryID:    params.QueryID,
		InstanceID: params.InstanceID,
		BackendNum: params.BackendNum,
		Done:       true,
	}

	completions, bytesRead, err := w.readScanRanges(ctx, params.TablePath, ranges)
	if err != nil {
		report.StatusMessage = err.Error()
		report.ErrorLog = []string{err.Error()}
	} else {
		report.CompletedScanRanges = completions
	}

	profile := fmt.Sprintf("worker=%s instance=%s bytes_read=%d ranges=%d", w.id, params.InstanceID, bytesRead, len(completions))
	encoded, codec, encErr := communication.EncodeProfile(params.QueryOptions.ProfileCompression, []byte(profile))
	if encErr == nil {
		report.Profile = encoded
		report.ProfileCodec = codec
	}

	sendCtx, sendCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer sendCancel()
	if err := client.UpdateFragmentExecStatus(sendCtx, report); err != nil {
		core.GetTracer().Error(core.TraceComponentWorker, "failed to report status",
			core.TraceContext("worker_id", w.id, "instance_id", params.InstanceID, "error", err.Error()))
	}
}

// readScanRanges reads every scan range assigned to this instance. Local
// (file-path) ranges are read as Parquet files via parquet-go; ranges
// addressed by an http(s) URL are fetched with howett.net/ranger, which
// issues an HTTP Range request instead of downloading the whole object.
func (w *Worker) readScanRanges(ctx context.Context, tablePath string, ranges communication.PerNodeScanRanges) ([]communication.ScanRangeCompletion, int64, error) {
	var completions []communication.ScanRangeCompletion
	var totalBytes int64

	for scanNodeID, rs := range ranges {
		for _, sr := range rs {
			select {
			case <-ctx.Done():
				return completions, totalBytes, ctx.Err()
			default:
			}

			n, err := w.readOneRange(sr)
			if err != nil {
				return completions, totalBytes, fmt.Errorf("scan range %s[%d:%d]: %w", sr.Path, sr.Offset, sr.Length, err)
			}
			totalBytes += n
			completions = append(completions, communication.ScanRangeCompletion{
				ScanNodeID: scanNodeID,
				Ordinal:    sr.Ordinal,
				BytesRead:  n,
			})
		}
	}
	return completions, totalBytes, nil
}

func (w *Worker) readOneRange(sr communication.ScanRange) (int64, error) {
	if strings.HasPrefix(sr.Path, "http://") || strings.HasPrefix(sr.Path, "https://") {
		return w.readRemoteRange(sr)
	}
	return w.readLocalParquetRange(sr)
}

// readLocalParquetRange opens sr.Path as a Parquet file and counts the rows
// and bytes in it. A production executor would skip straight to the row
// groups covering [Offset, Offset+Length); this reference worker reads the
// whole file, since without real row-group placement metadata (out of
// scope: that comes from the planner) there is nothing meaningful to skip
// to.
func (w *Worker) readLocalParquetRange(sr communication.ScanRange) (int64, error) {
	f, err := os.Open(sr.Path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}

	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return 0, err
	}

	reader := parquet.NewReader(pf)
	defer reader.Close()

	rows := make([]parquet.Row, 128)
	var count int64
	for {
		n, err := reader.ReadRows(rows)
		count += int64(n)
		if err != nil {
			break
		}
	}
	return info.Size(), nil
}

// readRemoteRange fetches exactly [Offset, Offset+Length) of a remote
// object via an HTTP Range request, using howett.net/ranger's io.ReaderAt
// adapter rather than downloading the whole object first.
func (w *Worker) readRemoteRange(sr communication.ScanRange) (int64, error) {
	u, err := url.Parse(sr.Path)
	if err != nil {
		return 0, err
	}

	fetcher := &ranger.HTTPRanger{URL: u}
	readerAt, err := ranger.NewReader(fetcher)
	if err != nil {
		return 0, fmt.Errorf("open remote range reader: %w", err)
	}
	length, err := readerAt.Length()
	if err != nil {
		return 0, fmt.Errorf("open remote range reader: %w", err)
	}

	want := sr.Length
	if sr.Offset+want > length {
		want = length - sr.Offset
	}
	if want <= 0 {
		return 0, nil
	}

	buf := make([]byte, want)
	n, err := readerAt.ReadAt(buf, sr.Offset)
	if err != nil && int64(n) != want {
		return int64(n), fmt.Errorf("read remote range: %w", err)
	}
	return int64(n), nil
}

// CancelPlanFragment implements communication.WorkerService.
func (w *Worker) CancelPlanFragment(ctx context.Context, instanceID string) error {
	w.mu.Lock()
	cancel, ok := w.running[core.InstanceID(instanceID)]
	w.mu.Unlock()
	if !ok {
		return nil
	}
	cancel()
	return nil
}

// GetStatus implements communication.WorkerService.
func (w *Worker) GetStatus(ctx context.Context) (*communication.WorkerStatus, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return &communication.WorkerStatus{
		ID:            w.id,
		Status:        w.status,
		ActiveQueries: w.activeQueries,
		LastHeartbeat: w.lastActivity,
	}, nil
}

// Health implements communication.WorkerService.
func (w *Worker) Health(ctx context.Context) error {
	w.mu.Lock()
	status := w.status
	w.mu.Unlock()
	if status != "active" {
		return fmt.Errorf("worker %s is not active (status: %s)", w.id, status)
	}
	if w.dataPath != "" {
		if _, err := os.Stat(w.dataPath); os.IsNotExist(err) {
			return fmt.Errorf("data path %s not accessible", w.dataPath)
		}
	}
	return nil
}

// Shutdown implements communication.WorkerService: it cancels every
// running instance and marks the worker unavailable for further dispatch.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	w.status = "shutting_down"
	for _, cancel := range w.running {
		cancel()
	}
	w.mu.Unlock()

	core.GetTracer().Info(core.TraceComponentWorker, "worker shutting down", core.TraceContext("worker_id", w.id))

	w.mu.Lock()
	w.status = "shutdown"
	w.mu.Unlock()
	return nil
}

// ID returns the worker's identifier, used as its transport address.
func (w *Worker) ID() string { return w.id }
