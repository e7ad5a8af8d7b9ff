package communication

import (
	"context"
	"fmt"
	"sync"
)

// MemoryTransport implements Transport for in-process communication. It is
// what the coordinator's tests and the reference cmd/coordinatord binary use
// in place of a real RPC transport (gRPC, HTTP), which is out of scope.
type MemoryTransport struct {
	coordinators map[string]CoordinatorService
	workers      map[string]WorkerService
	mutex        sync.RWMutex
}

// NewMemoryTransport creates a new in-memory transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		coordinators: make(map[string]CoordinatorService),
		workers:      make(map[string]WorkerService),
	}
}

// NewCoordinatorClient creates a client to communicate with a coordinator.
func (mt *MemoryTransport) NewCoordinatorClient(address string) (CoordinatorClient, error) {
	mt.mutex.RLock()
	service, exists := mt.coordinators[address]
	mt.mutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("coordinator not found at address: %s", address)
	}

	return &MemoryCoordinatorClient{service: service}, nil
}

// NewWorkerClient creates a client to communicate with a worker.
func (mt *MemoryTransport) NewWorkerClient(address string) (WorkerClient, error) {
	mt.mutex.RLock()
	service, exists := mt.workers[address]
	mt.mutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("worker not found at address: %s", address)
	}

	return &MemoryWorkerClient{service: service}, nil
}

// StartCoordinatorServer registers a coordinator service under address.
func (mt *MemoryTransport) StartCoordinatorServer(address string, service CoordinatorService) error {
	mt.mutex.Lock()
	defer mt.mutex.Unlock()

	if _, exists := mt.coordinators[address]; exists {
		return fmt.Errorf("coordinator already running at address: %s", address)
	}
	mt.coordinators[address] = service
	return nil
}

// StartWorkerServer registers a worker service under address.
func (mt *MemoryTransport) StartWorkerServer(address string, service WorkerService) error {
	mt.mutex.Lock()
	defer mt.mutex.Unlock()

	if _, exists := mt.workers[address]; exists {
		return fmt.Errorf("worker already running at address: %s", address)
	}
	mt.workers[address] = service
	return nil
}

// Stop clears all registrations. Services are shut down by their owners.
func (mt *MemoryTransport) Stop() error {
	mt.mutex.Lock()
	defer mt.mutex.Unlock()

	mt.coordinators = make(map[string]CoordinatorService)
	mt.workers = make(map[string]WorkerService)
	return nil
}

// MemoryCoordinatorClient implements CoordinatorClient over MemoryTransport.
type MemoryCoordinatorClient struct {
	service CoordinatorService
}

func (c *MemoryCoordinatorClient) UpdateFragmentExecStatus(ctx context.Context, params *ReportExecStatusParams) error {
	return c.service.UpdateFragmentExecStatus(ctx, params)
}

func (c *MemoryCoordinatorClient) Close() error { return nil }

// MemoryWorkerClient implements WorkerClient over MemoryTransport.
type MemoryWorkerClient struct {
	service WorkerService
}

func (c *MemoryWorkerClient) ExecPlanFragment(ctx context.Context, params *ExecPlanFragmentParams) error {
	return c.service.ExecPlanFragment(ctx, params)
}

func (c *MemoryWorkerClient) CancelPlanFragment(ctx context.Context, instanceID string) error {
	return c.service.CancelPlanFragment(ctx, instanceID)
}

func (c *MemoryWorkerClient) GetStatus(ctx context.Context) (*WorkerStatus, error) {
	return c.service.GetStatus(ctx)
}

func (c *MemoryWorkerClient) Health(ctx context.Context) error {
	return c.service.Health(ctx)
}

func (c *MemoryWorkerClient) Close() error { return nil }

// RegisterCoordinator directly registers a coordinator service (for tests).
func (mt *MemoryTransport) RegisterCoordinator(address string, service CoordinatorService) {
	mt.mutex.Lock()
	defer mt.mutex.Unlock()
	mt.coordinators[address] = service
}

// RegisterWorker directly registers a worker service (for tests).
func (mt *MemoryTransport) RegisterWorker(address string, service WorkerService) {
	mt.mutex.Lock()
	defer mt.mutex.Unlock()
	mt.workers[address] = service
}

// ListWorkers returns all registered worker addresses.
func (mt *MemoryTransport) ListWorkers() []string {
	mt.mutex.RLock()
	defer mt.mutex.RUnlock()

	addresses := make([]string, 0, len(mt.workers))
	for addr := range mt.workers {
		addresses = append(addresses, addr)
	}
	return addresses
}
