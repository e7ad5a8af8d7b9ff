package communication

import (
	"time"

	"github.com/cloudimpl/distq/core"
)

// ScanRange is a contiguous unit of input data assigned to exactly one
// fragment instance.
type ScanRange struct {
	Path   string `json:"path"`
	Offset int64  `json:"offset"`
	Length int64  `json:"length"`
	// Ordinal is this scan range's position within its scan node's global
	// range list; the conservation invariant is checked against it.
	Ordinal int `json:"ordinal"`
}

// ScanRangeLocations pairs a scan range with its candidate replica hosts, as
// produced by the (out of scope) planner from block/replica metadata.
type ScanRangeLocations struct {
	ScanRange ScanRange `json:"scan_range"`
	// Hosts are candidate replica addresses, in no particular order.
	Hosts []string `json:"hosts"`
	// VolumeIDs maps 1:1 with Hosts: the disk volume id backing that
	// replica on that host, used to prefer local-disk replicas and to
	// break ties deterministically.
	VolumeIDs []int `json:"volume_ids"`
}

// PlanNodeID identifies a node (typically a scan node or exchange node)
// within a fragment's plan sub-tree.
type PlanNodeID int

// FragmentIndex is the dense index of a fragment within a query's fragment
// list, as produced by the planner.
type FragmentIndex int

// Fragment is one node of the plan-fragment tree the planner produced.
type Fragment struct {
	Index FragmentIndex `json:"index"`
	// IsRoot is true for the single coordinator fragment run locally.
	IsRoot bool `json:"is_root"`
	// IsUnpartitioned marks a fragment that must run only on the
	// coordinator regardless of its input's placement (e.g. a final
	// merging aggregation).
	IsUnpartitioned bool `json:"is_unpartitioned"`
	// ScanNodeID is set if this fragment is rooted at a scan node.
	ScanNodeID *PlanNodeID `json:"scan_node_id,omitempty"`
	// LeftmostInputFragment names the fragment whose output feeds this
	// fragment's leftmost exchange node, or nil if the leftmost node is
	// not an exchange.
	LeftmostInputFragment *FragmentIndex `json:"leftmost_input_fragment,omitempty"`
	// DestinationExchangeNodeID is the exchange node id in the parent
	// fragment that consumes this fragment's output, if any.
	DestinationExchangeNodeID *PlanNodeID `json:"destination_exchange_node_id,omitempty"`
	// DestinationFragment is the parent fragment index, if any.
	DestinationFragment *FragmentIndex `json:"destination_fragment,omitempty"`

	// TablePath/Columns describe what an opaque scan node in this
	// fragment reads; the coordinator forwards them without interpreting
	// them.
	TablePath string   `json:"table_path,omitempty"`
	Columns   []string `json:"columns,omitempty"`
}

// FragmentDestination names one consumer of a fragment's output: a specific
// instance of the parent exchange, on a specific host.
type FragmentDestination struct {
	Host           string          `json:"host"`
	InstanceID     core.InstanceID `json:"instance_id"`
	ExchangeNodeID PlanNodeID      `json:"exchange_node_id"`
}

// FragmentExecParams is the assembled placement for one fragment: which
// hosts run it, what instance id runs on each host, and where its output
// goes.
type FragmentExecParams struct {
	Hosts             []string               `json:"hosts"`
	InstanceIDs       []core.InstanceID      `json:"instance_ids"`
	Destinations      []FragmentDestination  `json:"destinations"`
	PerExchNumSenders map[PlanNodeID]int     `json:"per_exch_num_senders"`
}

// PerNodeScanRanges maps a scan node id to the scan ranges assigned to it on
// one host.
type PerNodeScanRanges map[PlanNodeID][]ScanRange

// QueryOptions carries query-wide execution knobs. ProfileCompression
// selects the codec used to compress profile snapshots on the wire.
type QueryOptions struct {
	ProfileCompression string `json:"profile_compression"` // "", "snappy", or "zstd"
}

// ExecPlanFragmentParams is the RPC payload used to start one fragment
// instance on a worker: the fragment plan reference, its scan ranges, its
// destinations, and enough query-wide context to run standalone.
type ExecPlanFragmentParams struct {
	QueryID           core.QueryID       `json:"query_id"`
	FragmentIndex     FragmentIndex      `json:"fragment_index"`
	InstanceID        core.InstanceID    `json:"instance_id"`
	BackendNum        int                `json:"backend_num"`
	// ScanRanges carries the assignment directly when it is small.
	// Larger assignments are carried instead in ScanRangesEncoded,
	// compressed with the codec named by ScanRangesCodec, to keep the
	// per-dispatch RPC payload bounded; see communication/codec.go.
	ScanRanges        PerNodeScanRanges  `json:"scan_ranges,omitempty"`
	ScanRangesEncoded []byte             `json:"scan_ranges_encoded,omitempty"`
	ScanRangesCodec   string             `json:"scan_ranges_codec,omitempty"`
	Destinations      []FragmentDestination `json:"destinations"`
	PerExchNumSenders map[PlanNodeID]int `json:"per_exch_num_senders"`
	CoordinatorAddress string           `json:"coordinator_address"`
	QueryOptions      QueryOptions       `json:"query_options"`
	TablePath         string             `json:"table_path"`
	Columns           []string           `json:"columns"`
}

// ScanRangeCompletion names one scan range finished by an instance, along
// with the bytes it produced, for the query-wide bytes-read counters and
// per-scan-range byte distribution.
type ScanRangeCompletion struct {
	ScanNodeID PlanNodeID `json:"scan_node_id"`
	Ordinal    int        `json:"ordinal"`
	BytesRead  int64      `json:"bytes_read"`
}

// FileMove is one entry of the finalizer's file-move list. An empty Dest
// means the source file should be deleted.
type FileMove struct {
	Src  string `json:"src"`
	Dest string `json:"dest"`
}

// ReportExecStatusParams is what a worker pushes back to the coordinator via
// UpdateFragmentExecStatus, periodically and at completion.
type ReportExecStatusParams struct {
	QueryID    core.QueryID    `json:"query_id"`
	InstanceID core.InstanceID `json:"instance_id"`
	BackendNum int             `json:"backend_num"`

	Done bool `json:"done"`
	// StatusMessage is empty for OK. The wire form of Status: a Go
	// error value doesn't survive JSON, so only the message crosses.
	StatusMessage string `json:"status_message,omitempty"`

	// Profile is the instance's runtime profile snapshot, compressed
	// with the codec named in ProfileCodec ("", "snappy", or "zstd").
	Profile      []byte `json:"profile"`
	ProfileCodec string `json:"profile_codec"`

	ErrorLog []string `json:"error_log,omitempty"`

	// CompletedScanRanges is the delta of newly-completed scan ranges
	// since the previous report from this instance.
	CompletedScanRanges []ScanRangeCompletion `json:"completed_scan_ranges,omitempty"`

	// PartitionRowCounts / FilesToMove are only meaningful for INSERT
	// queries with no root fragment.
	PartitionRowCounts map[string]int64 `json:"partition_row_counts,omitempty"`
	FilesToMove        []FileMove       `json:"files_to_move,omitempty"`
}

// FinalizeParams describes the post-execution work needed for an INSERT-like
// query: where the target table's staging files live and land.
type FinalizeParams struct {
	TargetTable string `json:"target_table"`
	StagingDir  string `json:"staging_dir"`
	FinalDir    string `json:"final_dir"`
}

// CatalogUpdate is the payload the finalizer hands to the (out of scope)
// catalog service once a DML query has completed.
type CatalogUpdate struct {
	TargetTable        string           `json:"target_table"`
	PartitionRowCounts map[string]int64 `json:"partition_row_counts"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// QueryExecRequest is the coordinator's input: the fragment tree, per-scan
// scan-range locations, and optional finalize params. Producing this is the
// (out of scope) planner's job.
type QueryExecRequest struct {
	Fragments []Fragment `json:"fragments"`
	// ScanRangeLocations is keyed by (fragment index, scan node id).
	ScanRangeLocations map[FragmentIndex]map[PlanNodeID][]ScanRangeLocations `json:"scan_range_locations"`
	QueryOptions       QueryOptions    `json:"query_options"`
	NeedsFinalization  bool            `json:"needs_finalization"`
	FinalizeParams     *FinalizeParams `json:"finalize_params,omitempty"`
}

// WorkerInfo contains information about a worker node registered with the
// coordinator's scheduler oracle.
type WorkerInfo struct {
	ID        string          `json:"id"`
	Address   string          `json:"address"`
	DataPath  string          `json:"data_path"`
	Status    string          `json:"status"`
	Resources WorkerResources `json:"resources"`
}

// WorkerResources describes worker capabilities.
type WorkerResources struct {
	CPUCores    int   `json:"cpu_cores"`
	MemoryMB    int   `json:"memory_mb"`
	DiskSpaceGB int64 `json:"disk_space_gb"`
}

// WorkerStatus represents current worker state.
type WorkerStatus struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"`
	ActiveQueries int       `json:"active_queries"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}
