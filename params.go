package tfm

import (
	"encoding/json"
	"strings"

	"github.com/juju/errors"
)

// Scope selects the kind of middlebox state that is migrated.
type Scope int

// Valid scopes.
const (
	ScopeInvalid     Scope = iota
	Perflow                // Per-connection state.
	Multiflow              // Flow-aggregate state.
	PerflowMultiflow       // Both per-flow and multi-flow state.
)

var scopeNames = map[Scope]string{
	Perflow:          "PERFLOW",
	Multiflow:        "MULTIFLOW",
	PerflowMultiflow: "PF_MF",
}

// HasPerflow returns whether per-flow state is in the scope.
func (s Scope) HasPerflow() bool {
	return s == Perflow || s == PerflowMultiflow
}

// HasMultiflow returns whether multi-flow state is in the scope.
func (s Scope) HasMultiflow() bool {
	return s == Multiflow || s == PerflowMultiflow
}

func (s Scope) String() string {
	if n, ok := scopeNames[s]; ok {
		return n
	}
	return "INVALID"
}

// ParseScope parses the name of a scope, e.g., "PF_MF".
func ParseScope(name string) (Scope, error) {
	for s, n := range scopeNames {
		if strings.EqualFold(n, name) {
			return s, nil
		}
	}
	return ScopeInvalid, errors.NotValidf("scope %q", name)
}

// Guarantee is the consistency guarantee of the replay of buffered events.
type Guarantee int

// Valid guarantees.
const (
	NoGuarantee     Guarantee = iota
	OrderPreserving           // Replay events in their arrival order.
)

var guaranteeNames = map[Guarantee]string{
	NoGuarantee:     "NO_GUARANTEE",
	OrderPreserving: "ORDER_PRESERVING",
}

func (g Guarantee) String() string {
	if n, ok := guaranteeNames[g]; ok {
		return n
	}
	return "INVALID"
}

// ParseGuarantee parses the name of a guarantee, e.g., "ORDER_PRESERVING".
func ParseGuarantee(name string) (Guarantee, error) {
	for g, n := range guaranteeNames {
		if strings.EqualFold(n, name) {
			return g, nil
		}
	}
	return NoGuarantee, errors.NotValidf("guarantee %q", name)
}

// Optimization controls when migrated state may be released to the
// destination.
type Optimization int

// Valid optimizations.
const (
	NoOptimization Optimization = iota
	// PZ puts each state chunk on the destination as soon as it arrives.
	PZ
	// LL holds state chunks until the source reports their total count.
	LL
)

var optimizationNames = map[Optimization]string{
	NoOptimization: "NO_OPTIMIZATION",
	PZ:             "PZ",
	LL:             "LL",
}

// HoldsState returns whether state chunks are held until the get requests
// are acknowledged.
func (o Optimization) HoldsState() bool {
	return o == NoOptimization || o == LL
}

func (o Optimization) String() string {
	if n, ok := optimizationNames[o]; ok {
		return n
	}
	return "INVALID"
}

// ParseOptimization parses the name of an optimization, e.g., "PZ".
func ParseOptimization(name string) (Optimization, error) {
	for o, n := range optimizationNames {
		if strings.EqualFold(n, name) {
			return o, nil
		}
	}
	return NoOptimization, errors.NotValidf("optimization %q", name)
}

func (s Scope) MarshalJSON() ([]byte, error)        { return json.Marshal(s.String()) }
func (g Guarantee) MarshalJSON() ([]byte, error)    { return json.Marshal(g.String()) }
func (o Optimization) MarshalJSON() ([]byte, error) { return json.Marshal(o.String()) }

func (s *Scope) UnmarshalJSON(b []byte) (err error) {
	var n string
	if err = json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s, err = ParseScope(n)
	return err
}

func (g *Guarantee) UnmarshalJSON(b []byte) (err error) {
	var n string
	if err = json.Unmarshal(b, &n); err != nil {
		return err
	}
	*g, err = ParseGuarantee(n)
	return err
}

func (o *Optimization) UnmarshalJSON(b []byte) (err error) {
	var n string
	if err = json.Unmarshal(b, &n); err != nil {
		return err
	}
	*o, err = ParseOptimization(n)
	return err
}
