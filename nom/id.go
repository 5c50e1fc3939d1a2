package nom

import "strings"

// UID is a unique ID of a NOM object. It is composed of the IDs of the
// objects it belongs to, e.g., a port's UID contains the ID of its node.
type UID string

// UIDSeparator is the token added in between the parts of a UID.
const UIDSeparator = "$$"

// UIDJoin joins IDs into a UID.
func UIDJoin(ids ...string) UID {
	return UID(strings.Join(ids, UIDSeparator))
}
