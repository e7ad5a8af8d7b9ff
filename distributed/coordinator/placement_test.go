package coordinator

import (
	"testing"

	"github.com/cloudimpl/distq/distributed/communication"
	"github.com/cloudimpl/distq/distributed/scheduler"
)

func makeLocations(n int, hosts []string) []communication.ScanRangeLocations {
	locs := make([]communication.ScanRangeLocations, n)
	for i := 0; i < n; i++ {
		locs[i] = communication.ScanRangeLocations{
			ScanRange: communication.ScanRange{Path: "f", Offset: int64(i), Length: 1, Ordinal: i},
			Hosts:     hosts,
			VolumeIDs: make([]int, len(hosts)),
		}
	}
	return locs
}

func TestComputeScanRangeAssignmentConservation(t *testing.T) {
	hosts := []string{"h1", "h2", "h3"}
	sel := scheduler.NewVolumeBalancingSelector(hosts)
	locs := makeLocations(37, hosts)

	assign, err := computeScanRangeAssignment(0, locs, "", sel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	total := 0
	for _, perNode := range assign {
		for _, ranges := range perNode {
			total += len(ranges)
		}
	}
	if total != len(locs) {
		t.Fatalf("conservation violated: assigned %d of %d ranges", total, len(locs))
	}
}

func TestComputeScanRangeAssignmentDuplicateOrdinal(t *testing.T) {
	hosts := []string{"h1"}
	sel := scheduler.NewVolumeBalancingSelector(hosts)
	locs := []communication.ScanRangeLocations{
		{ScanRange: communication.ScanRange{Path: "f", Ordinal: 0}, Hosts: hosts},
		{ScanRange: communication.ScanRange{Path: "f", Ordinal: 0}, Hosts: hosts},
	}
	if _, err := computeScanRangeAssignment(0, locs, "", sel); err == nil {
		t.Fatalf("expected an error for duplicate ordinals, got nil")
	}
}

func TestComputeScanRangeAssignmentNoHosts(t *testing.T) {
	sel := scheduler.NewVolumeBalancingSelector(nil)
	locs := []communication.ScanRangeLocations{
		{ScanRange: communication.ScanRange{Path: "f", Ordinal: 0}, Hosts: nil},
	}
	if _, err := computeScanRangeAssignment(0, locs, "", sel); err == nil {
		t.Fatalf("expected an error when a scan range has no candidate hosts")
	}
}

func TestComputeFragmentHostsRootRunsOnCoordinator(t *testing.T) {
	hosts := []string{"h1", "h2"}
	sel := scheduler.NewVolumeBalancingSelector(hosts)
	scanID := communication.PlanNodeID(1)
	req := &communication.QueryExecRequest{
		Fragments: []communication.Fragment{
			{Index: 1, ScanNodeID: &scanID, DestinationFragment: fragIdxPtr(0), DestinationExchangeNodeID: planNodeIDPtr(9)},
			{Index: 0, IsRoot: true, LeftmostInputFragment: fragIdxPtr(1)},
		},
		ScanRangeLocations: map[communication.FragmentIndex]map[communication.PlanNodeID][]communication.ScanRangeLocations{
			1: {scanID: makeLocations(5, hosts)},
		},
	}

	placements, err := computeFragmentHosts(req, "coord", sel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var rootHosts, scanHosts []string
	for _, p := range placements {
		switch p.fragment.Index {
		case 0:
			rootHosts = p.hosts
		case 1:
			scanHosts = p.hosts
		}
	}
	if len(rootHosts) != 1 || rootHosts[0] != "coord" {
		t.Fatalf("root fragment should run only on the coordinator, got %v", rootHosts)
	}
	if len(scanHosts) == 0 {
		t.Fatalf("scan fragment got no hosts")
	}
}

func TestComputeFragmentHostsUnpartitionedCollapsesToCoordinator(t *testing.T) {
	hosts := []string{"h1", "h2", "h3"}
	sel := scheduler.NewVolumeBalancingSelector(hosts)
	scanID := communication.PlanNodeID(1)
	req := &communication.QueryExecRequest{
		Fragments: []communication.Fragment{
			{Index: 2, ScanNodeID: &scanID},
			{Index: 1, IsUnpartitioned: true, LeftmostInputFragment: fragIdxPtr(2)},
			{Index: 0, IsRoot: true, LeftmostInputFragment: fragIdxPtr(1)},
		},
		ScanRangeLocations: map[communication.FragmentIndex]map[communication.PlanNodeID][]communication.ScanRangeLocations{
			2: {scanID: makeLocations(10, hosts)},
		},
	}

	placements, err := computeFragmentHosts(req, "coord", sel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, p := range placements {
		if p.fragment.Index == 1 && (len(p.hosts) != 1 || p.hosts[0] != "coord") {
			t.Fatalf("unpartitioned fragment should collapse to the coordinator, got %v", p.hosts)
		}
	}
}

func TestAssignInstancesDestinationsAndSenderCounts(t *testing.T) {
	hosts := []string{"h1", "h2"}
	sel := scheduler.NewVolumeBalancingSelector(hosts)
	scanID := communication.PlanNodeID(1)
	exchID := communication.PlanNodeID(9)
	req := &communication.QueryExecRequest{
		Fragments: []communication.Fragment{
			{Index: 1, ScanNodeID: &scanID, DestinationFragment: fragIdxPtr(0), DestinationExchangeNodeID: &exchID},
			{Index: 0, IsRoot: true, LeftmostInputFragment: fragIdxPtr(1)},
		},
		ScanRangeLocations: map[communication.FragmentIndex]map[communication.PlanNodeID][]communication.ScanRangeLocations{
			1: {scanID: makeLocations(4, hosts)},
		},
	}

	placements, err := computeFragmentHosts(req, "coord", sel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assigned, err := assignInstances(placements)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	scanParams := assigned.perFragment[1]
	rootParams := assigned.perFragment[0]
	if len(scanParams.Destinations) != len(rootParams.Hosts) {
		t.Fatalf("expected one destination per root instance, got %d destinations for %d root instances",
			len(scanParams.Destinations), len(rootParams.Hosts))
	}
	if rootParams.PerExchNumSenders[exchID] != len(scanParams.Hosts) {
		t.Fatalf("per_exch_num_senders[%d] = %d, want %d (number of scan fragment instances)",
			exchID, rootParams.PerExchNumSenders[exchID], len(scanParams.Hosts))
	}
	if assigned.totalScanRanges != 4 {
		t.Fatalf("totalScanRanges = %d, want 4", assigned.totalScanRanges)
	}
}

func fragIdxPtr(i communication.FragmentIndex) *communication.FragmentIndex { return &i }
func planNodeIDPtr(i communication.PlanNodeID) *communication.PlanNodeID   { return &i }
