package coordinator

import (
	"fmt"
	"sort"

	roaring "github.com/RoaringBitmap/roaring/v2"

	"github.com/cloudimpl/distq/core"
	"github.com/cloudimpl/distq/distributed/communication"
	"github.com/cloudimpl/distq/distributed/scheduler"
)

// scanRangeAssignment maps a host to the scan ranges of one scan node it
// must read, for a single fragment.
type scanRangeAssignment map[string]communication.PerNodeScanRanges

// computeScanRangeAssignment assigns every location in locations to a host,
// via execAtCoordHost when non-empty (the whole scan runs on the
// coordinator, as for a scan fragment marked unpartitioned) or via
// the scheduler otherwise. It also verifies the conservation invariant: the
// set of assigned ordinals must have exactly len(locations) members, i.e.
// every scan range is assigned to precisely one host. A roaring bitmap
// makes that check a single cardinality comparison instead of a map-based
// dedup loop.
func computeScanRangeAssignment(scanNodeID communication.PlanNodeID, locations []communication.ScanRangeLocations, execAtCoordHost string, sel scheduler.HostSelector) (scanRangeAssignment, error) {
	assignment := make(scanRangeAssignment)
	seen := roaring.New()

	for _, loc := range locations {
		var host string
		if execAtCoordHost != "" {
			host = execAtCoordHost
		} else {
			h, err := sel.SelectHost(loc)
			if err != nil {
				return nil, fmt.Errorf("scan node %d: %w", scanNodeID, err)
			}
			host = h
		}
		if assignment[host] == nil {
			assignment[host] = make(communication.PerNodeScanRanges)
		}
		assignment[host][scanNodeID] = append(assignment[host][scanNodeID], loc.ScanRange)

		if !seen.CheckedAdd(uint32(loc.ScanRange.Ordinal)) {
			return nil, fmt.Errorf("scan node %d: duplicate scan range ordinal %d", scanNodeID, loc.ScanRange.Ordinal)
		}
	}

	if int(seen.GetCardinality()) != len(locations) {
		return nil, fmt.Errorf("scan node %d: conservation violated: assigned %d of %d ranges", scanNodeID, seen.GetCardinality(), len(locations))
	}
	return assignment, nil
}

// scanBytesAssigned sums the scan-range lengths in one host's assignment
// for one fragment, used to seed that instance's summary-stats sample.
func scanBytesAssigned(perNode communication.PerNodeScanRanges) int64 {
	var total int64
	for _, ranges := range perNode {
		for _, r := range ranges {
			total += r.Length
		}
	}
	return total
}

// hosts returns the sorted, deduplicated set of hosts an assignment
// touches.
func (a scanRangeAssignment) hosts() []string {
	hosts := make([]string, 0, len(a))
	for h := range a {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

// fragmentPlacement is the placement planner's working state for one
// fragment before instance ids and destinations are filled in.
type fragmentPlacement struct {
	fragment   communication.Fragment
	hosts      []string
	scanAssign map[communication.PlanNodeID]scanRangeAssignment // usually at most one entry
}

// computeFragmentHosts decides, for every fragment in the request, which
// hosts run it. Root fragments run only on the coordinator. Scan-rooted
// fragments inherit the union of hosts the scheduler chose for their scan
// ranges. Exchange-consuming fragments co-locate with their producer's
// hosts unless they're unpartitioned, in which case they too collapse onto
// the coordinator. Grounded on coordinator.h's ComputeFragmentHosts (lines
// 420-470).
func computeFragmentHosts(req *communication.QueryExecRequest, coordHost string, sel scheduler.HostSelector) ([]fragmentPlacement, error) {
	byIndex := make(map[communication.FragmentIndex]*fragmentPlacement, len(req.Fragments))
	ordered := append([]communication.Fragment(nil), req.Fragments...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	placements := make([]fragmentPlacement, len(ordered))
	for i, f := range ordered {
		placements[i] = fragmentPlacement{fragment: f, scanAssign: make(map[communication.PlanNodeID]scanRangeAssignment)}
		byIndex[f.Index] = &placements[i]
	}

	// Resolve depth-first: a fragment's hosts may depend on its leftmost
	// input fragment's hosts (already-computed hosts feed forward, up
	// the tree, toward the root), so it can't just be done in index
	// order -- a fragment at index 1 may consume the output of the
	// fragment at index 2. resolving lazily with memoization sidesteps any
	// assumption about how the planner numbered fragments.
	visiting := make(map[communication.FragmentIndex]bool, len(placements))
	var resolve func(p *fragmentPlacement) error
	resolve = func(p *fragmentPlacement) error {
		if p.hosts != nil {
			return nil
		}
		if visiting[p.fragment.Index] {
			return fmt.Errorf("fragment %d: cyclic fragment dependency", p.fragment.Index)
		}
		visiting[p.fragment.Index] = true
		defer delete(visiting, p.fragment.Index)

		f := p.fragment
		switch {
		case f.IsRoot:
			p.hosts = []string{coordHost}

		case f.ScanNodeID != nil:
			execAtCoord := ""
			if f.IsUnpartitioned {
				execAtCoord = coordHost
			}
			locs := req.ScanRangeLocations[f.Index][*f.ScanNodeID]
			assign, err := computeScanRangeAssignment(*f.ScanNodeID, locs, execAtCoord, sel)
			if err != nil {
				return err
			}
			p.scanAssign[*f.ScanNodeID] = assign
			hosts := assign.hosts()
			if len(hosts) == 0 {
				// a scan node with no ranges at all still needs one
				// instance so downstream exchanges have a sender;
				// it will simply report zero completed ranges.
				hosts = []string{coordHost}
			}
			p.hosts = hosts

		case f.LeftmostInputFragment != nil:
			if f.IsUnpartitioned {
				p.hosts = []string{coordHost}
				break
			}
			input, ok := byIndex[*f.LeftmostInputFragment]
			if !ok {
				return fmt.Errorf("fragment %d: unknown leftmost input fragment %d", f.Index, *f.LeftmostInputFragment)
			}
			if err := resolve(input); err != nil {
				return err
			}
			p.hosts = append([]string(nil), input.hosts...)

		default:
			return fmt.Errorf("fragment %d: no root/scan/leftmost-input basis for placement (%w)", f.Index, core.ErrNoRootOrSink)
		}

		if len(p.hosts) == 0 {
			return fmt.Errorf("fragment %d: %w", f.Index, core.ErrNoHostsAvailable)
		}
		return nil
	}

	for i := range placements {
		if err := resolve(&placements[i]); err != nil {
			return nil, err
		}
	}

	return placements, nil
}

// assignedInstances is the final, fully-resolved per-query placement:
// dense backend numbers, instance ids, and each fragment's exec params.
type assignedInstances struct {
	perFragment    map[communication.FragmentIndex]*communication.FragmentExecParams
	perFragmentScans map[communication.FragmentIndex]scanRangeAssignment
	instanceHosts  map[core.InstanceID]string
	instanceFragment map[core.InstanceID]communication.FragmentIndex
	// order lists every non-root instance in ascending backend_num order.
	order           []core.InstanceID
	backendNumOf    map[core.InstanceID]int
	totalScanRanges int64
}

// assignInstances turns placements into dense instance ids, backend
// numbers, and destinations. Root fragments get exactly one instance
// (backend_num is not meaningful for them: they run locally, not via
// dispatch) but are excluded from the dispatch-visible ordering, matching
// the original's convention that only remote fragment instances receive
// backend numbers.
func assignInstances(placements []fragmentPlacement) (*assignedInstances, error) {
	byIndex := make(map[communication.FragmentIndex]*fragmentPlacement, len(placements))
	for i := range placements {
		byIndex[placements[i].fragment.Index] = &placements[i]
	}

	out := &assignedInstances{
		perFragment:      make(map[communication.FragmentIndex]*communication.FragmentExecParams),
		perFragmentScans: make(map[communication.FragmentIndex]scanRangeAssignment),
		instanceHosts:    make(map[core.InstanceID]string),
		instanceFragment: make(map[core.InstanceID]communication.FragmentIndex),
	}

	for i := range placements {
		p := &placements[i]
		params := &communication.FragmentExecParams{
			PerExchNumSenders: make(map[communication.PlanNodeID]int),
		}
		for _, host := range p.hosts {
			id := core.NewInstanceID()
			params.Hosts = append(params.Hosts, host)
			params.InstanceIDs = append(params.InstanceIDs, id)
			out.instanceHosts[id] = host
			out.instanceFragment[id] = p.fragment.Index
			if !p.fragment.IsRoot {
				out.order = append(out.order, id)
			}
		}
		out.perFragment[p.fragment.Index] = params
		for _, assign := range p.scanAssign {
			out.perFragmentScans[p.fragment.Index] = assign
		}
	}

	// destinations + per_exch_num_senders: for every fragment with a
	// DestinationFragment, its instances are the senders; the consumer's
	// exec params record how many senders feed the exchange node, and
	// the producer's exec params record where to send to.
	for i := range placements {
		p := &placements[i]
		f := p.fragment
		if f.DestinationFragment == nil || f.DestinationExchangeNodeID == nil {
			continue
		}
		consumer, ok := byIndex[*f.DestinationFragment]
		if !ok {
			return nil, fmt.Errorf("fragment %d: unknown destination fragment %d", f.Index, *f.DestinationFragment)
		}
		producerParams := out.perFragment[f.Index]
		consumerParams := out.perFragment[consumer.fragment.Index]

		for j, host := range consumerParams.Hosts {
			producerParams.Destinations = append(producerParams.Destinations, communication.FragmentDestination{
				Host:           host,
				InstanceID:     consumerParams.InstanceIDs[j],
				ExchangeNodeID: *f.DestinationExchangeNodeID,
			})
		}
		consumerParams.PerExchNumSenders[*f.DestinationExchangeNodeID] += len(producerParams.Hosts)
	}

	// dense backend numbering, in a stable order (fragment index, then
	// host order within the fragment), assigned after all instances are
	// known so it doesn't depend on map iteration order.
	sort.Slice(out.order, func(i, j int) bool {
		fi, fj := out.instanceFragment[out.order[i]], out.instanceFragment[out.order[j]]
		if fi != fj {
			return fi < fj
		}
		return out.instanceHosts[out.order[i]] < out.instanceHosts[out.order[j]]
	})

	backendNumOf := make(map[core.InstanceID]int, len(out.order))
	for i, id := range out.order {
		backendNumOf[id] = i
	}

	var totalScanRanges int64
	for _, assign := range out.perFragmentScans {
		for _, perNode := range assign {
			for _, ranges := range perNode {
				totalScanRanges += int64(len(ranges))
			}
		}
	}
	out.totalScanRanges = totalScanRanges

	// stash backend numbers on the struct via a side map, since
	// FragmentExecParams doesn't carry them (they're per-instance, used
	// only when building ExecPlanFragmentParams).
	out.backendNumOf = backendNumOf
	return out, nil
}
