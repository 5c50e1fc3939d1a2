package tfm

import (
	"context"
	"encoding/hex"
	"os/exec"
	"strings"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/nfvproject/TFM/flow"
	"github.com/nfvproject/TFM/nom"
)

// ScriptNetwork programs the forwarding plane by running external commands,
// e.g., wrappers around ovs-ofctl.
//
// RouteCmd is run as "RouteCmd SELECTOR SRC_PORT DST_PORT" where ports are
// switch port UIDs. PacketCmd is run as "PacketCmd PORT HEX_PACKET". A
// command that is not set is not supported.
type ScriptNetwork struct {
	RouteCmd  string
	PacketCmd string
}

func (n ScriptNetwork) run(ctx context.Context, cmd string,
	args ...string) error {

	f := strings.Fields(cmd)
	c := exec.CommandContext(ctx, f[0], append(f[1:], args...)...)
	out, err := c.CombinedOutput()
	glog.V(2).Infof("%s %v: %s", cmd, args, out)
	if err != nil {
		return errors.Annotatef(err, "%s: %s", f[0], strings.TrimSpace(string(out)))
	}
	return nil
}

func (n ScriptNetwork) Reroute(ctx context.Context, sel flow.Selector, from,
	to *Middlebox) error {

	if strings.TrimSpace(n.RouteCmd) == "" {
		return errors.NotSupportedf("rerouting")
	}
	return n.run(ctx, n.RouteCmd, sel.String(), string(from.Port.UID()),
		string(to.Port.UID()))
}

func (n ScriptNetwork) PacketOut(ctx context.Context, port nom.Port,
	data []byte) error {

	if strings.TrimSpace(n.PacketCmd) == "" {
		return errors.NotSupportedf("packet out")
	}
	return n.run(ctx, n.PacketCmd, string(port.UID()), hex.EncodeToString(data))
}
