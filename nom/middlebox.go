package nom

// Middlebox represents a network function attached to a switch port. Its
// state can be migrated to another middlebox of the same kind.
type Middlebox struct {
	ID   MiddleboxID
	Port Port // Port is where the middlebox is attached.
	// Mgmt is the HOST:PORT of the middlebox configuration channel.
	Mgmt string
}

// MiddleboxID is the ID of a middlebox. It is the host name the middlebox
// reports when it connects to the controller.
type MiddleboxID string

// UID returns the UID of the middlebox in the form of
// node_id$$port_id$$middlebox_id.
func (m Middlebox) UID() UID {
	return UIDJoin(string(m.Port.UID()), string(m.ID))
}
