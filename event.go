package tfm

import (
	"context"
	"sync/atomic"

	"github.com/juju/errors"

	"github.com/nfvproject/TFM/bucket"
	"github.com/nfvproject/TFM/message"
)

// ReprocessEvent is a packet raised by the source while its state was being
// moved. It is replayed towards the destination once the state is installed.
type ReprocessEvent struct {
	Seq    uint64 // Seq is the arrival order of the event in its operation.
	Op     OpID
	Key    message.HashKey
	Packet []byte
	Target *Middlebox

	replayed int32
}

// Replayer re-injects buffered events into the network.
type Replayer interface {
	Replay(ctx context.Context, ev *ReprocessEvent) error
}

// ErrReplayed is returned when an event is replayed twice.
var ErrReplayed = errors.New("event is already replayed")

// Replay replays the event using r. An event is replayed at most once.
func (e *ReprocessEvent) Replay(ctx context.Context, r Replayer) error {
	if !atomic.CompareAndSwapInt32(&e.replayed, 0, 1) {
		return ErrReplayed
	}
	if err := r.Replay(ctx, e); err != nil {
		return errors.WithType(errors.Annotatef(err, "replaying event %d", e.Seq),
			ErrReplay)
	}
	return nil
}

// Replayed returns whether the event is dequeued for replay.
func (e *ReprocessEvent) Replayed() bool {
	return atomic.LoadInt32(&e.replayed) == 1
}

// ChannelReplayer replays events by sending them back to the target
// middlebox over its state channel.
type ChannelReplayer struct{}

func (ChannelReplayer) Replay(ctx context.Context, ev *ReprocessEvent) error {
	return ev.Target.Send(message.Reprocess{
		Header:  message.Header{ID: ev.Op},
		HashKey: ev.Key,
		Packet:  ev.Packet,
	})
}

// NetworkReplayer replays events by sending their packets out of the switch
// port of the target middlebox.
type NetworkReplayer struct {
	Network Network
}

func (r NetworkReplayer) Replay(ctx context.Context, ev *ReprocessEvent) error {
	return r.Network.PacketOut(ctx, ev.Target.Port, ev.Packet)
}

// PacedReplayer limits the rate of the events replayed by Replayer.
type PacedReplayer struct {
	Replayer Replayer
	Bucket   *bucket.Bucket
}

func (r PacedReplayer) Replay(ctx context.Context, ev *ReprocessEvent) error {
	if err := r.Bucket.Wait(ctx, 1); err != nil {
		return err
	}
	return r.Replayer.Replay(ctx, ev)
}
