// Package scheduler implements the host-selection oracle the placement
// planner consults. The scheduler is a pure placement function: given a set
// of candidate hosts (from replica locations), it returns the host that
// should run the work. Which policy it implements is deliberately left
// open by the spec (§9 Open Questions) -- only the conservation property
// (every scan range assigned exactly once) is load-bearing.
package scheduler

import (
	"errors"
	"sort"

	"github.com/cloudimpl/distq/distributed/communication"
)

// ErrNoCandidateHosts is returned when a scan range's location has no
// candidate replica hosts to place it on.
var ErrNoCandidateHosts = errors.New("scan range has no candidate hosts")

// HostSelector is the placement oracle the coordinator's placement planner
// consults. It must be deterministic given the same input, per §6.
type HostSelector interface {
	// SelectHost picks one host from locations.Hosts to run the scan
	// range described by locations. Returns an error if locations has
	// no candidate hosts.
	SelectHost(locations communication.ScanRangeLocations) (string, error)
}

// VolumeBalancingSelector is the default HostSelector: it tracks bytes
// assigned per host so far and picks the least-loaded candidate replica,
// breaking ties by host name order and then by lowest volume id. Grounded on the worker-balancing logic in the
// teacher's distributed query planner, generalized from whole-fragment to
// per-scan-range placement.
type VolumeBalancingSelector struct {
	assignedByte map[string]int64
}

// NewVolumeBalancingSelector creates a selector aware of the given host
// list (registered workers plus the coordinator, as appropriate). The host
// list itself only matters for the byte-tracking map's initial keys;
// SelectHost is always handed its candidates directly by each call's
// ScanRangeLocations.
func NewVolumeBalancingSelector(hosts []string) *VolumeBalancingSelector {
	assigned := make(map[string]int64, len(hosts))
	for _, h := range hosts {
		assigned[h] = 0
	}
	return &VolumeBalancingSelector{assignedByte: assigned}
}

// SelectHost implements HostSelector. Among locations.Hosts, it picks the
// host with the smallest current assigned-byte total; ties are broken by
// host name order, then by the candidate's volume id.
func (s *VolumeBalancingSelector) SelectHost(loc communication.ScanRangeLocations) (string, error) {
	if len(loc.Hosts) == 0 {
		return "", ErrNoCandidateHosts
	}

	type candidate struct {
		host     string
		volumeID int
		assigned int64
	}
	candidates := make([]candidate, len(loc.Hosts))
	for i, h := range loc.Hosts {
		vol := 0
		if i < len(loc.VolumeIDs) {
			vol = loc.VolumeIDs[i]
		}
		candidates[i] = candidate{host: h, volumeID: vol, assigned: s.assignedByte[h]}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].assigned != candidates[j].assigned {
			return candidates[i].assigned < candidates[j].assigned
		}
		if candidates[i].host != candidates[j].host {
			return candidates[i].host < candidates[j].host
		}
		return candidates[i].volumeID < candidates[j].volumeID
	})

	chosen := candidates[0].host
	s.assignedByte[chosen] += loc.ScanRange.Length
	return chosen, nil
}
