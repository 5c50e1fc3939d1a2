package flag

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nfvproject/TFM/nom"
)

// Middleboxes is a flag value holding the middlebox inventory of the
// controller. Middleboxes are separated by commas and each is in the form of
// ID=NODE:PORT@MGMT_HOST:MGMT_PORT, e.g., "ids1=s1:2@10.0.0.11:4433". The
// management address is optional.
type Middleboxes struct {
	M *[]nom.Middlebox
}

func (v Middleboxes) String() string {
	if v.M == nil {
		return ""
	}
	s := make([]string, 0, len(*v.M))
	for _, m := range *v.M {
		s = append(s, FormatMiddlebox(m))
	}
	return strings.Join(s, ",")
}

func (v Middleboxes) Get() interface{} {
	return []nom.Middlebox(*v.M)
}

func (v Middleboxes) Set(val string) error {
	var entries []string
	CSV{S: &entries}.Set(val)
	mbs := make([]nom.Middlebox, 0, len(entries))
	seen := make(map[nom.MiddleboxID]bool)
	for _, e := range entries {
		m, err := ParseMiddlebox(e)
		if err != nil {
			return err
		}
		if seen[m.ID] {
			return fmt.Errorf("duplicate middlebox %q", m.ID)
		}
		seen[m.ID] = true
		mbs = append(mbs, m)
	}
	*v.M = mbs
	return nil
}

// ParseMiddlebox parses a single middlebox in the form of
// ID=NODE:PORT[@MGMT].
func ParseMiddlebox(s string) (nom.Middlebox, error) {
	var m nom.Middlebox
	id, rest, ok := strings.Cut(s, "=")
	if !ok || id == "" {
		return m, fmt.Errorf("no middlebox id in %q", s)
	}
	attach, mgmt, _ := strings.Cut(rest, "@")
	node, port, ok := strings.Cut(attach, ":")
	if !ok || node == "" {
		return m, fmt.Errorf("no switch port in %q", s)
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return m, fmt.Errorf("invalid port in %q: %v", s, err)
	}
	m.ID = nom.MiddleboxID(id)
	m.Port = nom.Port{ID: nom.PortID(p), Node: nom.NodeID(node)}
	m.Mgmt = mgmt
	return m, nil
}

// FormatMiddlebox formats m in the form accepted by ParseMiddlebox.
func FormatMiddlebox(m nom.Middlebox) string {
	s := fmt.Sprintf("%s=%s:%d", m.ID, m.Port.Node, m.Port.ID)
	if m.Mgmt != "" {
		s += "@" + m.Mgmt
	}
	return s
}
