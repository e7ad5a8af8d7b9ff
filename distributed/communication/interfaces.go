package communication

import "context"

// WorkerService is what a worker exposes to the coordinator: start a
// fragment instance, cancel one, and answer health/status probes. This is
// the inbound side of the out-of-scope RPC transport; the coordinator only
// depends on this interface, never on a concrete transport.
type WorkerService interface {
	// ExecPlanFragment synchronously starts a fragment instance. It
	// returns once the instance has begun executing (or failed to
	// start); it does not block until the instance finishes.
	ExecPlanFragment(ctx context.Context, params *ExecPlanFragmentParams) error

	// CancelPlanFragment cancels a fragment instance. Idempotent on the
	// worker: cancelling an already-done or already-cancelled instance
	// is not an error.
	CancelPlanFragment(ctx context.Context, instanceID string) error

	GetStatus(ctx context.Context) (*WorkerStatus, error)
	Health(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// CoordinatorService is what the coordinator exposes to workers: the
// reverse channel for status reports.
type CoordinatorService interface {
	UpdateFragmentExecStatus(ctx context.Context, params *ReportExecStatusParams) error
}

// WorkerClient is the coordinator's view of a connection to one worker.
type WorkerClient interface {
	ExecPlanFragment(ctx context.Context, params *ExecPlanFragmentParams) error
	CancelPlanFragment(ctx context.Context, instanceID string) error
	GetStatus(ctx context.Context) (*WorkerStatus, error)
	Health(ctx context.Context) error
	Close() error
}

// CoordinatorClient is a worker's view of a connection back to the
// coordinator, used to push UpdateFragmentExecStatus reports.
type CoordinatorClient interface {
	UpdateFragmentExecStatus(ctx context.Context, params *ReportExecStatusParams) error
	Close() error
}

// Transport is the out-of-scope RPC transport's surface, as consulted by the
// coordinator/worker wiring code. Only MemoryTransport is provided in this
// repository; a real transport (gRPC, HTTP) is an external collaborator.
type Transport interface {
	NewCoordinatorClient(address string) (CoordinatorClient, error)
	NewWorkerClient(address string) (WorkerClient, error)
	StartCoordinatorServer(address string, service CoordinatorService) error
	StartWorkerServer(address string, service WorkerService) error
	Stop() error
}
