// Command coordinatord wires an in-memory cluster (a scheduler, N reference
// workers, and an in-process transport) and runs one query end to end
// through the distributed coordinator. Grounded on
// cmd/distributed_sql_test_runner.go's flag set and startup order in the
// teacher repo (flag-parsed config, then wire transport, then workers, then
// run).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cloudimpl/distq/catalog"
	"github.com/cloudimpl/distq/distributed/communication"
	"github.com/cloudimpl/distq/distributed/coordinator"
	"github.com/cloudimpl/distq/distributed/monitoring"
	"github.com/cloudimpl/distq/distributed/scheduler"
	"github.com/cloudimpl/distq/distributed/worker"
)

func main() {
	var (
		numWorkers  = flag.Int("workers", 3, "number of in-process reference workers to start")
		dataDir     = flag.String("data-dir", "", "directory of files to scan; each regular file becomes one scan range")
		targetTable = flag.String("target-table", "demo_table", "run an INSERT-style query and finalize into this table name; this reference command has no root-fragment executor, so a target table (and thus a distributed sink) is always required")
		traceLevel  = flag.String("trace-level", "INFO", "DISTQ_TRACE_LEVEL override (OFF, ERROR, WARN, INFO, DEBUG, VERBOSE)")
		metricsAddr = flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9090)")
	)
	flag.Parse()

	os.Setenv("DISTQ_TRACE_LEVEL", *traceLevel)

	transport := communication.NewMemoryTransport()
	sel, workerHosts := startWorkers(transport, *numWorkers, *dataDir)

	reg := monitoring.NewRegistry()
	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, reg)
	}

	req, err := buildRequest(*dataDir, *targetTable, workerHosts)
	if err != nil {
		log.Fatalf("coordinatord: %v", err)
	}

	coordAddr := "coordinator-0"
	co, err := coordinator.New(transport, sel, coordAddr, nil)
	if err != nil {
		log.Fatalf("coordinatord: %v", err)
	}
	co.SetMetrics(reg)
	defer co.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if status := co.Exec(ctx, req); !status.IsOK() {
		log.Fatalf("coordinatord: exec failed: %v", status)
	}
	status := co.Wait(ctx)
	if !status.IsOK() {
		log.Fatalf("coordinatord: query failed: %v", status)
	}
	for {
		batch, status := co.GetNext(ctx)
		if !status.IsOK() {
			log.Fatalf("coordinatord: query failed: %v", status)
		}
		if batch == nil {
			break
		}
	}

	completed, total := co.Progress()
	fmt.Printf("query %s: %d/%d scan ranges completed\n", co.QueryID(), completed, total)

	if update, ok := co.PrepareCatalogUpdate(); ok {
		applier := catalog.NewInMemoryApplier()
		if err := applier.Apply(update); err != nil {
			log.Fatalf("coordinatord: catalog apply failed: %v", err)
		}
		fmt.Printf("finalized table %s: %d partitions updated\n", update.TargetTable, len(update.PartitionRowCounts))
	}

	if errLog := co.GetErrorLog(); len(errLog) > 0 {
		fmt.Println("error log:")
		for _, line := range errLog {
			fmt.Println(" ", line)
		}
	}
}

func startWorkers(transport *communication.MemoryTransport, n int, dataDir string) (scheduler.HostSelector, []string) {
	hosts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := "worker-" + strconv.Itoa(i)
		w := worker.NewWorker(id, dataDir, transport)
		if err := transport.StartWorkerServer(id, w); err != nil {
			log.Fatalf("coordinatord: %v", err)
		}
		hosts = append(hosts, id)
	}
	return scheduler.NewVolumeBalancingSelector(hosts), hosts
}

func serveMetrics(addr string, reg *monitoring.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	log.Printf("coordinatord: serving metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("coordinatord: metrics server: %v", err)
	}
}

// buildRequest constructs a single-scan-node, single-fragment query request
// over every regular file in dataDir, each treated as one scan range,
// finalizing into targetTable. This command has no real root-fragment
// executor (that piece is out of scope), so every query it runs is a pure
// sink: it exercises placement, dispatch, and status aggregation, not row
// streaming.
func buildRequest(dataDir, targetTable string, hosts []string) (*communication.QueryExecRequest, error) {
	var locations []communication.ScanRangeLocations
	if dataDir != "" {
		entries, err := os.ReadDir(dataDir)
		if err != nil {
			return nil, fmt.Errorf("read data dir: %w", err)
		}
		ordinal := 0
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			info, err := e.Info()
			if err != nil {
				return nil, err
			}
			locations = append(locations, communication.ScanRangeLocations{
				ScanRange: communication.ScanRange{
					Path:    filepath.Join(dataDir, e.Name()),
					Offset:  0,
					Length:  info.Size(),
					Ordinal: ordinal,
				},
				Hosts:     hosts,
				VolumeIDs: make([]int, len(hosts)),
			})
			ordinal++
		}
	}

	if len(locations) == 0 {
		return nil, fmt.Errorf("no scan ranges found under %q; pass -data-dir", dataDir)
	}

	scanNodeID := communication.PlanNodeID(0)
	fragments := []communication.Fragment{
		{
			Index:           0,
			IsRoot:          false,
			IsUnpartitioned: false,
			ScanNodeID:      &scanNodeID,
		},
	}

	req := &communication.QueryExecRequest{
		Fragments: fragments,
		ScanRangeLocations: map[communication.FragmentIndex]map[communication.PlanNodeID][]communication.ScanRangeLocations{
			0: {scanNodeID: locations},
		},
		QueryOptions: communication.QueryOptions{ProfileCompression: "snappy"},
	}

	if targetTable != "" {
		req.NeedsFinalization = true
		req.FinalizeParams = &communication.FinalizeParams{TargetTable: targetTable}
	}

	return req, nil
}
