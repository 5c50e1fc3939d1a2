package tfm

import (
	"context"

	"github.com/nfvproject/TFM/flow"
	"github.com/nfvproject/TFM/message"
	"github.com/nfvproject/TFM/nom"
)

// StateChannel sends messages to a middlebox.
type StateChannel interface {
	// Send sends the message. It returns an error if the message cannot be
	// written to the channel.
	Send(m message.Msg) error
}

// Commander is the configuration channel of a middlebox.
type Commander interface {
	// SendCommand runs cmd on the middlebox and blocks for its output.
	SendCommand(ctx context.Context, cmd string) (string, error)
	// CommitCommand writes cmd to the middlebox without waiting for its
	// output.
	CommitCommand(cmd string) error
}

// Network is the forwarding plane: the switches in between middleboxes.
type Network interface {
	// Reroute installs the forwarding rules that steer the flows selected by
	// sel, which currently traverse from, towards to.
	Reroute(ctx context.Context, sel flow.Selector, from, to *Middlebox) error
	// PacketOut sends data out of the given switch port.
	PacketOut(ctx context.Context, port nom.Port, data []byte) error
}

// Packet is a packet received from a switch.
type Packet struct {
	Data []byte
	In   nom.Port // In is the ingress switch and port.
}
