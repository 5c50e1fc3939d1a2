package flow

import (
	"encoding/json"
	"net"
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

func testSelector() Selector {
	return Selector{
		EthType: 0x0800,
		DstIP:   netip.MustParseAddr("10.10.10.10"),
		Proto:   6,
		DstPort: 80,
	}
}

func TestSelectorEquality(t *testing.T) {
	s1 := testSelector()
	s2 := testSelector()
	if s1 != s2 {
		t.Errorf("structurally equal selectors differ: %v != %v", s1, s2)
	}
	if s1.Hash() != s2.Hash() {
		t.Errorf("equal selectors have different hashes: %x != %x", s1.Hash(),
			s2.Hash())
	}

	m := map[Selector]int{s1: 1}
	if m[s2] != 1 {
		t.Errorf("selector cannot be used as a map key")
	}

	s2.DstPort = 81
	if s1 == s2 || s1.Hash() == s2.Hash() {
		t.Errorf("different selectors are equal: %v == %v", s1, s2)
	}
}

func TestSelectorString(t *testing.T) {
	want := "{dl_type=0x0800,nw_src=*,nw_dst=10.10.10.10,nw_proto=6,tp_src=*,tp_dst=80}"
	if s := testSelector().String(); s != want {
		t.Errorf("invalid string: got=%s want=%s", s, want)
	}
	if !Any().IsAny() {
		t.Errorf("Any() is not a wildcard selector")
	}
}

func TestSelectorRedirectPattern(t *testing.T) {
	if p := testSelector().RedirectPattern(); p != "10.10.10.10/32" {
		t.Errorf("invalid redirect pattern: %s", p)
	}
	s := Selector{SrcIP: netip.MustParseAddr("10.0.0.1")}
	if p := s.RedirectPattern(); p != "10.0.0.1/32" {
		t.Errorf("invalid redirect pattern: %s", p)
	}
	if p := Any().RedirectPattern(); p != "" {
		t.Errorf("wildcard selector has a redirect pattern: %s", p)
	}
}

func TestSelectorJSON(t *testing.T) {
	s := testSelector()
	b, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("cannot marshal selector: %v", err)
	}
	want := `{"dl_type":2048,"nw_dst":"10.10.10.10","nw_proto":6,"tp_dst":80}`
	if string(b) != want {
		t.Errorf("invalid json: got=%s want=%s", b, want)
	}

	var d Selector
	if err := json.Unmarshal(b, &d); err != nil {
		t.Fatalf("cannot unmarshal selector: %v", err)
	}
	if d != s {
		t.Errorf("decoded selector differs: %v != %v", d, s)
	}

	if err := json.Unmarshal([]byte(`{"nw_src":"bogus"}`), &d); err == nil {
		t.Errorf("no error for an invalid address")
	}
}

func tcpFrame(t *testing.T, src, dst string, sport, dport uint16) []byte {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0xe8, 0x61, 0x1f, 0x10, 0x6c, 0xd1},
		DstMAC:       net.HardwareAddr{0xe8, 0x61, 0x1f, 0x10, 0x6d, 0x53},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP(src),
		DstIP:    net.ParseIP(dst),
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(sport),
		DstPort: layers.TCPPort(dport),
		SYN:     true,
	}
	tcp.SetNetworkLayerForChecksum(ip)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, tcp); err != nil {
		t.Fatalf("cannot serialize frame: %v", err)
	}
	return buf.Bytes()
}

func TestParseAndMatch(t *testing.T) {
	h, err := Parse(tcpFrame(t, "10.0.0.1", "10.10.10.10", 4242, 80))
	if err != nil {
		t.Fatalf("cannot parse frame: %v", err)
	}

	want := Header{
		EthType: 0x0800,
		SrcIP:   netip.MustParseAddr("10.0.0.1"),
		DstIP:   netip.MustParseAddr("10.10.10.10"),
		Proto:   6,
		SrcPort: 4242,
		DstPort: 80,
	}
	if h != want {
		t.Errorf("invalid header: got=%+v want=%+v", h, want)
	}

	if !testSelector().Matches(h) {
		t.Errorf("%v does not match %+v", testSelector(), h)
	}
	if !Any().Matches(h) {
		t.Errorf("wildcard selector does not match %+v", h)
	}

	h.DstPort = 443
	if testSelector().Matches(h) {
		t.Errorf("%v matches %+v", testSelector(), h)
	}
}
