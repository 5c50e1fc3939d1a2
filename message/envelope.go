package message

import (
	"encoding/base64"
	"encoding/json"

	"github.com/nfvproject/TFM/flow"
)

// Envelope is the union of all message fields as they appear on the wire.
// Each message is a single JSON object terminated by a newline.
type Envelope struct {
	ID          OpID           `json:"id"`
	Type        Type           `json:"type"`
	Host        string         `json:"host,omitempty"`
	Pid         int            `json:"pid,omitempty"`
	Key         *flow.Selector `json:"key,omitempty"`
	RaiseEvents bool           `json:"raiseEvents,omitempty"`
	Count       *int           `json:"count,omitempty"`
	HashKey     *HashKey       `json:"hashkey,omitempty"`
	State       string         `json:"state,omitempty"`
	Packet      string         `json:"packet,omitempty"`
	Cause       string         `json:"cause,omitempty"`
}

// Decode constructs the typed message from e. It returns an *Error if the
// type is unknown or a field required by the type is missing.
func Decode(e Envelope) (Msg, error) {
	h := Header{ID: e.ID}
	switch e.Type {
	case TypeSyn:
		if e.Host == "" {
			return nil, errorf(e.Type, "no host")
		}
		return Syn{Header: h, Host: e.Host, Pid: e.Pid}, nil

	case TypeGetPerflow, TypeGetMultiflow, TypeEnableEvents, TypeDisableEvents:
		if e.Key == nil {
			return nil, errorf(e.Type, "no key")
		}
		switch e.Type {
		case TypeGetPerflow:
			return GetPerflow{Header: h, Key: *e.Key, RaiseEvents: e.RaiseEvents}, nil
		case TypeGetMultiflow:
			return GetMultiflow{Header: h, Key: *e.Key}, nil
		case TypeEnableEvents:
			return EnableEvents{Header: h, Key: *e.Key}, nil
		default:
			return DisableEvents{Header: h, Key: *e.Key}, nil
		}

	case TypeGetPerflowAck, TypeGetMultiflowAck, TypeMigrateFinishAck:
		if e.Count == nil {
			return nil, errorf(e.Type, "no count")
		}
		if *e.Count < 0 {
			return nil, errorf(e.Type, "negative count %d", *e.Count)
		}
		switch e.Type {
		case TypeGetPerflowAck:
			return GetPerflowAck{Header: h, Count: *e.Count}, nil
		case TypeGetMultiflowAck:
			return GetMultiflowAck{Header: h, Count: *e.Count}, nil
		default:
			return MigrateFinishAck{Header: h, Count: *e.Count}, nil
		}

	case TypeStatePerflow, TypeStateMultiflow, TypePutPerflow, TypePutMultiflow:
		if e.HashKey == nil {
			return nil, errorf(e.Type, "no hashkey")
		}
		var f flow.Selector
		if e.Key != nil {
			f = *e.Key
		}
		switch e.Type {
		case TypeStatePerflow:
			return StatePerflow{Header: h, HashKey: *e.HashKey, Flow: f,
				State: e.State}, nil
		case TypeStateMultiflow:
			return StateMultiflow{Header: h, HashKey: *e.HashKey, Flow: f,
				State: e.State}, nil
		case TypePutPerflow:
			return PutPerflow{Header: h, HashKey: *e.HashKey, State: e.State}, nil
		default:
			return PutMultiflow{Header: h, HashKey: *e.HashKey, State: e.State}, nil
		}

	case TypePutPerflowAck, TypePutMultiflowAck:
		if e.HashKey == nil {
			return nil, errorf(e.Type, "no hashkey")
		}
		if e.Type == TypePutPerflowAck {
			return PutPerflowAck{Header: h, HashKey: *e.HashKey}, nil
		}
		return PutMultiflowAck{Header: h, HashKey: *e.HashKey}, nil

	case TypeEventsAck:
		return EventsAck{Header: h}, nil

	case TypeMigrateFinish:
		return MigrateFinish{Header: h}, nil

	case TypeReprocess:
		p, err := base64.StdEncoding.DecodeString(e.Packet)
		if err != nil {
			return nil, errorf(e.Type, "invalid packet: %v", err)
		}
		if len(p) == 0 {
			return nil, errorf(e.Type, "no packet")
		}
		var k HashKey
		if e.HashKey != nil {
			k = *e.HashKey
		}
		return Reprocess{Header: h, HashKey: k, Packet: p}, nil

	case TypeError:
		return ErrorMsg{Header: h, Cause: e.Cause}, nil

	case "":
		return nil, errorf(e.Type, "no type")
	}

	return nil, errorf(e.Type, "unknown type")
}

// Encode returns the envelope of m.
func Encode(m Msg) Envelope {
	e := Envelope{ID: m.Op(), Type: m.Type()}
	key := func(s flow.Selector) *flow.Selector { return &s }
	count := func(c int) *int { return &c }
	hash := func(k HashKey) *HashKey { return &k }

	switch m := m.(type) {
	case Syn:
		e.Host, e.Pid = m.Host, m.Pid
	case GetPerflow:
		e.Key, e.RaiseEvents = key(m.Key), m.RaiseEvents
	case GetMultiflow:
		e.Key = key(m.Key)
	case EnableEvents:
		e.Key = key(m.Key)
	case DisableEvents:
		e.Key = key(m.Key)
	case GetPerflowAck:
		e.Count = count(m.Count)
	case GetMultiflowAck:
		e.Count = count(m.Count)
	case MigrateFinishAck:
		e.Count = count(m.Count)
	case StatePerflow:
		e.HashKey, e.Key, e.State = hash(m.HashKey), key(m.Flow), m.State
	case StateMultiflow:
		e.HashKey, e.Key, e.State = hash(m.HashKey), key(m.Flow), m.State
	case PutPerflow:
		e.HashKey, e.State = hash(m.HashKey), m.State
	case PutMultiflow:
		e.HashKey, e.State = hash(m.HashKey), m.State
	case PutPerflowAck:
		e.HashKey = hash(m.HashKey)
	case PutMultiflowAck:
		e.HashKey = hash(m.HashKey)
	case Reprocess:
		e.HashKey = hash(m.HashKey)
		e.Packet = base64.StdEncoding.EncodeToString(m.Packet)
	case ErrorMsg:
		e.Cause = m.Cause
	}
	return e
}

// Unmarshal decodes a JSON envelope and constructs its message.
func Unmarshal(b []byte) (Msg, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, errorf("", "invalid json: %v", err)
	}
	return Decode(e)
}

// Marshal encodes m as a JSON envelope.
func Marshal(m Msg) ([]byte, error) {
	return json.Marshal(Encode(m))
}
