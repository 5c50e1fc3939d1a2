// Package flow contains the flow selector: a predicate over L2-L4 header
// fields that identifies the traffic whose middlebox state is migrated.
package flow

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/netip"
	"strconv"

	"github.com/OneOfOne/xxhash"
)

// Wildcard values. A field that equals its wildcard matches everything.
const (
	AnyEthType uint16 = 0
	AnyProto   uint8  = 0
	AnyPort    uint16 = 0
)

// Selector describes which flows are in scope. Unset fields are wildcards.
// Selectors are comparable and can be used as map keys; two selectors with the
// same fields are the same selector.
type Selector struct {
	EthType uint16
	SrcIP   netip.Addr
	DstIP   netip.Addr
	Proto   uint8
	SrcPort uint16
	DstPort uint16
}

// Any returns a selector that matches all flows.
func Any() Selector {
	return Selector{}
}

// IsAny returns whether all fields of s are wildcards.
func (s Selector) IsAny() bool {
	return s == Selector{}
}

// Hash returns a 64-bit hash of the selector's fields.
func (s Selector) Hash() uint64 {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, s.EthType)
	buf.Write(s.SrcIP.AsSlice())
	buf.WriteByte('|')
	buf.Write(s.DstIP.AsSlice())
	buf.WriteByte('|')
	buf.WriteByte(s.Proto)
	binary.Write(&buf, binary.BigEndian, s.SrcPort)
	binary.Write(&buf, binary.BigEndian, s.DstPort)
	return xxhash.Checksum64(buf.Bytes())
}

// Matches returns whether the header h is selected by s.
func (s Selector) Matches(h Header) bool {
	if s.EthType != AnyEthType && s.EthType != h.EthType {
		return false
	}
	if s.SrcIP.IsValid() && s.SrcIP != h.SrcIP {
		return false
	}
	if s.DstIP.IsValid() && s.DstIP != h.DstIP {
		return false
	}
	if s.Proto != AnyProto && s.Proto != h.Proto {
		return false
	}
	if s.SrcPort != AnyPort && s.SrcPort != h.SrcPort {
		return false
	}
	if s.DstPort != AnyPort && s.DstPort != h.DstPort {
		return false
	}
	return true
}

// RedirectPattern returns the address pattern used to steer the selected
// traffic on middlebox redirect elements, e.g. "10.10.10.10/32". The
// destination address is preferred. It returns an empty string for selectors
// without any address.
func (s Selector) RedirectPattern() string {
	switch {
	case s.DstIP.IsValid():
		return netip.PrefixFrom(s.DstIP, s.DstIP.BitLen()).String()
	case s.SrcIP.IsValid():
		return netip.PrefixFrom(s.SrcIP, s.SrcIP.BitLen()).String()
	}
	return ""
}

func (s Selector) String() string {
	f := func(set bool, v string) string {
		if !set {
			return "*"
		}
		return v
	}
	return fmt.Sprintf("{dl_type=%s,nw_src=%s,nw_dst=%s,nw_proto=%s,tp_src=%s,tp_dst=%s}",
		f(s.EthType != AnyEthType, fmt.Sprintf("0x%04x", s.EthType)),
		f(s.SrcIP.IsValid(), s.SrcIP.String()),
		f(s.DstIP.IsValid(), s.DstIP.String()),
		f(s.Proto != AnyProto, strconv.Itoa(int(s.Proto))),
		f(s.SrcPort != AnyPort, strconv.Itoa(int(s.SrcPort))),
		f(s.DstPort != AnyPort, strconv.Itoa(int(s.DstPort))))
}

// jsonSelector is the wire form of a selector in the state channel. Zero
// values and empty strings are wildcards.
type jsonSelector struct {
	DlType  uint16 `json:"dl_type,omitempty"`
	NwSrc   string `json:"nw_src,omitempty"`
	NwDst   string `json:"nw_dst,omitempty"`
	NwProto uint8  `json:"nw_proto,omitempty"`
	TpSrc   uint16 `json:"tp_src,omitempty"`
	TpDst   uint16 `json:"tp_dst,omitempty"`
}

// MarshalJSON encodes the selector using OpenFlow match field names.
func (s Selector) MarshalJSON() ([]byte, error) {
	j := jsonSelector{
		DlType:  s.EthType,
		NwProto: s.Proto,
		TpSrc:   s.SrcPort,
		TpDst:   s.DstPort,
	}
	if s.SrcIP.IsValid() {
		j.NwSrc = s.SrcIP.String()
	}
	if s.DstIP.IsValid() {
		j.NwDst = s.DstIP.String()
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes a selector encoded by MarshalJSON.
func (s *Selector) UnmarshalJSON(b []byte) error {
	var j jsonSelector
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}

	sel := Selector{
		EthType: j.DlType,
		Proto:   j.NwProto,
		SrcPort: j.TpSrc,
		DstPort: j.TpDst,
	}
	var err error
	if j.NwSrc != "" {
		if sel.SrcIP, err = netip.ParseAddr(j.NwSrc); err != nil {
			return fmt.Errorf("invalid nw_src %q: %v", j.NwSrc, err)
		}
	}
	if j.NwDst != "" {
		if sel.DstIP, err = netip.ParseAddr(j.NwDst); err != nil {
			return fmt.Errorf("invalid nw_dst %q: %v", j.NwDst, err)
		}
	}
	*s = sel
	return nil
}
