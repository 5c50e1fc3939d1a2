package message

import (
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nfvproject/TFM/flow"
)

var selectorComparer = cmp.Comparer(func(a, b flow.Selector) bool {
	return a == b
})

func TestMarshalUnmarshal(t *testing.T) {
	key := flow.Selector{DstIP: netip.MustParseAddr("10.10.10.10")}
	msgs := []Msg{
		GetPerflow{Header: Header{ID: 1}, Key: key, RaiseEvents: true},
		GetMultiflowAck{Header: Header{ID: 2}, Count: 0},
		StatePerflow{Header: Header{ID: 3}, HashKey: 42, Flow: key, State: "abc"},
		PutMultiflowAck{Header: Header{ID: 4}, HashKey: -7},
		Reprocess{Header: Header{ID: 5}, HashKey: 9, Packet: []byte{1, 2, 3}},
		MigrateFinishAck{Header: Header{ID: 6}, Count: 3},
	}

	for _, m := range msgs {
		b, err := Marshal(m)
		if err != nil {
			t.Fatalf("cannot marshal %#v: %v", m, err)
		}
		d, err := Unmarshal(b)
		if err != nil {
			t.Fatalf("cannot unmarshal %s: %v", b, err)
		}
		if diff := cmp.Diff(m, d, selectorComparer); diff != "" {
			t.Errorf("decoded message differs (-want +got):\n%s", diff)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	jsons := []string{
		`{"id":1}`,
		`{"id":1,"type":"no-such-type"}`,
		`{"id":1,"type":"get-perflow"}`,
		`{"id":1,"type":"get-perflow-ack"}`,
		`{"id":1,"type":"get-perflow-ack","count":-1}`,
		`{"id":1,"type":"put-perflow-ack"}`,
		`{"id":1,"type":"reprocess","packet":"!!"}`,
		`{"id":1,"type":"syn"}`,
		`not json`,
	}

	for _, j := range jsons {
		m, err := Unmarshal([]byte(j))
		if err == nil {
			t.Errorf("no error for %s: %#v", j, m)
			continue
		}
		if _, ok := err.(*Error); !ok {
			t.Errorf("error for %s is not a *Error: %T", j, err)
		}
	}
}

func TestStateAndAckInterfaces(t *testing.T) {
	var s State = StateMultiflow{HashKey: 3, State: "x"}
	if !s.Multiflow() || s.Key() != 3 || s.Payload() != "x" {
		t.Errorf("invalid state accessors: %#v", s)
	}
	var a PutAck = PutPerflowAck{HashKey: 3}
	if a.Multiflow() || a.Key() != 3 {
		t.Errorf("invalid put ack accessors: %#v", a)
	}
}
