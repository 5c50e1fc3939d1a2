package nom

import "strconv"

// Port is a port of a node.
type Port struct {
	ID   PortID
	Node NodeID
}

// PortID is the ID of a port and is unique among the ports of a node. For
// OpenFlow switches it is the port number.
type PortID uint16

func (p PortID) String() string {
	return strconv.FormatUint(uint64(p), 10)
}

// UID returns the unique ID of the port in the form of node_id$$port_id.
func (p Port) UID() UID {
	return UIDJoin(string(p.Node), p.ID.String())
}
