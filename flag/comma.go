// Package flag contains flag values used by the controller daemon.
package flag

import "strings"

// CSV implements a simple comma separated value for golang flag. Empty
// entries are dropped.
type CSV struct {
	S *[]string
}

func (v CSV) String() string {
	if v.S == nil {
		return ""
	}
	return strings.Join([]string(*v.S), ",")
}

func (v CSV) Get() interface{} {
	return []string(*v.S)
}

func (v CSV) Set(val string) error {
	*v.S = (*v.S)[:0]
	for _, s := range strings.Split(val, ",") {
		if s = strings.TrimSpace(s); s != "" {
			*v.S = append(*v.S, s)
		}
	}
	return nil
}
