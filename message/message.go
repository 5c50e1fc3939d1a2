// Package message defines the typed messages exchanged with middleboxes over
// the state channel and their construction from the wire envelope.
package message

import (
	"fmt"

	"github.com/nfvproject/TFM/flow"
)

// OpID identifies an operation. Valid IDs are positive.
type OpID int64

// HashKey identifies one per-flow or multi-flow state record on a middlebox.
type HashKey int64

// Type is the type of a message on the wire.
type Type string

// Message types.
const (
	TypeSyn = Type("syn")

	TypeGetPerflow      = Type("get-perflow")
	TypeGetPerflowAck   = Type("get-perflow-ack")
	TypeGetMultiflow    = Type("get-multiflow")
	TypeGetMultiflowAck = Type("get-multiflow-ack")

	TypeStatePerflow   = Type("state-perflow")
	TypeStateMultiflow = Type("state-multiflow")

	TypePutPerflow      = Type("put-perflow")
	TypePutPerflowAck   = Type("put-perflow-ack")
	TypePutMultiflow    = Type("put-multiflow")
	TypePutMultiflowAck = Type("put-multiflow-ack")

	TypeEnableEvents  = Type("enable-events")
	TypeDisableEvents = Type("disable-events")
	TypeEventsAck     = Type("events-ack")
	TypeReprocess     = Type("reprocess")

	TypeMigrateFinish    = Type("migrate-finish")
	TypeMigrateFinishAck = Type("migrate-finish-ack")

	TypeError = Type("error")
)

// Msg is a typed state-channel message.
type Msg interface {
	// Op returns the ID of the operation this message belongs to. Messages that
	// do not belong to an operation return 0.
	Op() OpID
	// Type returns the wire type of the message.
	Type() Type
}

// Header is embedded in all messages.
type Header struct {
	ID OpID
}

// Op implements Msg.
func (h Header) Op() OpID {
	return h.ID
}

// Syn is the first message a middlebox sends after connecting.
type Syn struct {
	Header
	Host string // Host is the middlebox identity.
	Pid  int
}

// GetPerflow requests the per-flow state matching Key from a source.
type GetPerflow struct {
	Header
	Key         flow.Selector
	RaiseEvents bool
}

// GetPerflowAck reports the number of per-flow state chunks that were sent.
type GetPerflowAck struct {
	Header
	Count int
}

// GetMultiflow requests the multi-flow state matching Key from a source.
type GetMultiflow struct {
	Header
	Key flow.Selector
}

// GetMultiflowAck reports the number of multi-flow state chunks that were
// sent.
type GetMultiflowAck struct {
	Header
	Count int
}

// State is implemented by the state-carrying messages.
type State interface {
	Msg
	// Key returns the hash key of the state record.
	Key() HashKey
	// Payload returns the opaque state.
	Payload() string
	// Multiflow returns whether this is multi-flow state.
	Multiflow() bool
}

// StatePerflow carries one per-flow state record from a source.
type StatePerflow struct {
	Header
	HashKey HashKey
	Flow    flow.Selector
	State   string
}

func (m StatePerflow) Key() HashKey    { return m.HashKey }
func (m StatePerflow) Payload() string { return m.State }
func (m StatePerflow) Multiflow() bool { return false }

// StateMultiflow carries one multi-flow state record from a source.
type StateMultiflow struct {
	Header
	HashKey HashKey
	Flow    flow.Selector
	State   string
}

func (m StateMultiflow) Key() HashKey    { return m.HashKey }
func (m StateMultiflow) Payload() string { return m.State }
func (m StateMultiflow) Multiflow() bool { return true }

// PutPerflow installs a per-flow state record on a destination.
type PutPerflow struct {
	Header
	HashKey HashKey
	State   string
}

// PutMultiflow installs a multi-flow state record on a destination.
type PutMultiflow struct {
	Header
	HashKey HashKey
	State   string
}

// PutAck is implemented by put acknowledgements.
type PutAck interface {
	Msg
	Key() HashKey
	Multiflow() bool
}

// PutPerflowAck acknowledges a PutPerflow.
type PutPerflowAck struct {
	Header
	HashKey HashKey
}

func (m PutPerflowAck) Key() HashKey    { return m.HashKey }
func (m PutPerflowAck) Multiflow() bool { return false }

// PutMultiflowAck acknowledges a PutMultiflow.
type PutMultiflowAck struct {
	Header
	HashKey HashKey
}

func (m PutMultiflowAck) Key() HashKey    { return m.HashKey }
func (m PutMultiflowAck) Multiflow() bool { return true }

// EnableEvents asks a middlebox to raise events for the flows in Key instead
// of processing their packets.
type EnableEvents struct {
	Header
	Key flow.Selector
}

// DisableEvents stops raising events for the flows in Key.
type DisableEvents struct {
	Header
	Key flow.Selector
}

// EventsAck acknowledges EnableEvents and DisableEvents.
type EventsAck struct {
	Header
}

// Reprocess is an event raised by a middlebox: a packet it did not process.
type Reprocess struct {
	Header
	HashKey HashKey
	Packet  []byte
}

// MigrateFinish tells a destination that all buffered events are released.
type MigrateFinish struct {
	Header
}

// MigrateFinishAck confirms that the destination drained the released events.
type MigrateFinishAck struct {
	Header
	Count int
}

// ErrorMsg is a protocol error reported by a middlebox for an operation.
type ErrorMsg struct {
	Header
	Cause string
}

func (m Syn) Type() Type              { return TypeSyn }
func (m GetPerflow) Type() Type       { return TypeGetPerflow }
func (m GetPerflowAck) Type() Type    { return TypeGetPerflowAck }
func (m GetMultiflow) Type() Type     { return TypeGetMultiflow }
func (m GetMultiflowAck) Type() Type  { return TypeGetMultiflowAck }
func (m StatePerflow) Type() Type     { return TypeStatePerflow }
func (m StateMultiflow) Type() Type   { return TypeStateMultiflow }
func (m PutPerflow) Type() Type       { return TypePutPerflow }
func (m PutMultiflow) Type() Type     { return TypePutMultiflow }
func (m PutPerflowAck) Type() Type    { return TypePutPerflowAck }
func (m PutMultiflowAck) Type() Type  { return TypePutMultiflowAck }
func (m EnableEvents) Type() Type     { return TypeEnableEvents }
func (m DisableEvents) Type() Type    { return TypeDisableEvents }
func (m EventsAck) Type() Type        { return TypeEventsAck }
func (m Reprocess) Type() Type        { return TypeReprocess }
func (m MigrateFinish) Type() Type    { return TypeMigrateFinish }
func (m MigrateFinishAck) Type() Type { return TypeMigrateFinishAck }
func (m ErrorMsg) Type() Type         { return TypeError }

// Error is returned when a message cannot be constructed from an envelope.
type Error struct {
	Type   Type
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("message: cannot construct %q: %s", e.Type, e.Reason)
}

func errorf(t Type, format string, args ...interface{}) *Error {
	return &Error{Type: t, Reason: fmt.Sprintf(format, args...)}
}
