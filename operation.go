package tfm

import (
	"sync"

	"github.com/nfvproject/TFM/message"
)

// OpID is the ID of an operation.
type OpID = message.OpID

// Status is the status of an operation.
type Status int

// Valid statuses. Finished and Failed are terminal.
const (
	Created Status = iota
	Running
	Finished
	Failed
)

var statusNames = map[Status]string{
	Created:  "CREATED",
	Running:  "RUNNING",
	Finished: "FINISHED",
	Failed:   "FAILED",
}

func (s Status) String() string {
	return statusNames[s]
}

// Terminal returns whether s is a terminal status.
func (s Status) Terminal() bool {
	return s == Finished || s == Failed
}

// Operation is an operation on middlebox state driven by the controller.
type Operation interface {
	// ID returns the ID of the operation.
	ID() OpID
	// Execute starts the operation. It can be called only once and returns
	// the operation ID if the operation is successfully initiated.
	Execute() (OpID, error)
	// Finish terminates the operation successfully. Calling Finish on a
	// terminated operation is a no-op.
	Finish()
	// Fail terminates the operation with the given cause. Calling Fail on a
	// terminated operation is a no-op.
	Fail(cause error)
	// Status returns the current status of the operation.
	Status() Status
	// Err returns the cause of the failure of a failed operation.
	Err() error
	// Done is closed when the operation terminates.
	Done() <-chan struct{}

	// Rcv handles a message received from a middlebox. Messages that the
	// operation does not expect are ignored.
	Rcv(msg message.Msg, from *Middlebox)
	// RcvPacket handles a packet received from a switch.
	RcvPacket(pkt Packet)

	// Snapshot returns the current state of the operation.
	Snapshot() Snapshot
}

// Snapshot is a read-only view of an operation.
type Snapshot struct {
	ID     OpID
	Kind   string
	Status string
	Cause  string        `json:",omitempty"`
	Move   *MoveSnapshot `json:",omitempty"`
}

// Observer is notified when operations terminate.
type Observer interface {
	Terminated(op Operation)
}

// operation implements the identity and terminal transitions shared by all
// operations. It is embedded in concrete operations.
type operation struct {
	id   OpID
	obs  Observer
	self Operation

	mu      sync.Mutex
	status  Status
	cause   error
	done    chan struct{}
	release func(s Status)
}

func newOperation(id OpID, obs Observer) *operation {
	return &operation{
		id:   id,
		obs:  obs,
		done: make(chan struct{}),
	}
}

func (o *operation) ID() OpID {
	return o.id
}

func (o *operation) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

func (o *operation) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cause
}

func (o *operation) Done() <-chan struct{} {
	return o.done
}

// Terminated returns whether the operation is finished or failed.
func (o *operation) Terminated() bool {
	return o.Status().Terminal()
}

func (o *operation) start() {
	o.mu.Lock()
	if o.status == Created {
		o.status = Running
	}
	o.mu.Unlock()
}

func (o *operation) Finish() {
	o.terminate(Finished, nil)
}

func (o *operation) Fail(cause error) {
	o.terminate(Failed, cause)
}

// terminate moves the operation to the terminal status s exactly once. It
// releases the resources of the operation and notifies the observer.
func (o *operation) terminate(s Status, cause error) bool {
	o.mu.Lock()
	if o.status.Terminal() {
		o.mu.Unlock()
		return false
	}
	o.status = s
	o.cause = cause
	release := o.release
	o.mu.Unlock()

	if release != nil {
		release(s)
	}
	close(o.done)
	if o.obs != nil {
		o.obs.Terminated(o.self)
	}
	return true
}
