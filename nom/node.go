package nom

import "fmt"

// NodeID is the ID of a forwarding element. For OpenFlow switches it is the
// hex-encoded datapath ID.
type NodeID string

// NodeIDFromDatapath returns the node ID of an OpenFlow datapath.
func NodeIDFromDatapath(dpid uint64) NodeID {
	return NodeID(fmt.Sprintf("%016x", dpid))
}
