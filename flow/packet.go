package flow

import (
	"errors"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Header is the set of L2-L4 fields of a packet a selector matches on.
type Header struct {
	EthType uint16
	SrcIP   netip.Addr
	DstIP   netip.Addr
	Proto   uint8
	SrcPort uint16
	DstPort uint16
}

// ErrNotEthernet is returned by Parse for frames without an ethernet header.
var ErrNotEthernet = errors.New("flow: not an ethernet frame")

// Parse decodes the header fields of an ethernet frame. Fields of layers that
// are absent from the frame are left unset.
func Parse(frame []byte) (Header, error) {
	var h Header
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Lazy)

	eth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if !ok {
		return h, ErrNotEthernet
	}
	h.EthType = uint16(eth.EthernetType)

	switch ip := pkt.NetworkLayer().(type) {
	case *layers.IPv4:
		h.SrcIP, _ = netip.AddrFromSlice(ip.SrcIP.To4())
		h.DstIP, _ = netip.AddrFromSlice(ip.DstIP.To4())
		h.Proto = uint8(ip.Protocol)
	case *layers.IPv6:
		h.SrcIP, _ = netip.AddrFromSlice(ip.SrcIP)
		h.DstIP, _ = netip.AddrFromSlice(ip.DstIP)
		h.Proto = uint8(ip.NextHeader)
	}

	switch l4 := pkt.TransportLayer().(type) {
	case *layers.TCP:
		h.SrcPort = uint16(l4.SrcPort)
		h.DstPort = uint16(l4.DstPort)
	case *layers.UDP:
		h.SrcPort = uint16(l4.SrcPort)
		h.DstPort = uint16(l4.DstPort)
	}

	if err := pkt.ErrorLayer(); err != nil && !h.SrcIP.IsValid() {
		return h, err.Error()
	}
	return h, nil
}
