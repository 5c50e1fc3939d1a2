// tfmd is the controller daemon that moves middlebox state on request.
//
// Middleboxes are given with -mbs and connect their state channels to
// -laddr. Moves are requested on the REST API served on the same address:
//
//	curl -XPOST localhost:9797/api/v1/moves -d '{"src":"ids1","dst":"ids2",
//	  "key":{"nw_dst":"10.10.10.10"},"scope":"PF_MF",
//	  "guarantee":"ORDER_PRESERVING","optimization":"LL"}'
package main

import (
	"flag"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"

	tfm "github.com/nfvproject/TFM"
	"github.com/nfvproject/TFM/connpool"
	"github.com/nfvproject/TFM/mbconf"
)

func main() {
	flag.Parse()
	defer glog.Flush()

	cfg := tfm.DefaultCfg
	var opts []tfm.Option
	n := tfm.ScriptNetwork{RouteCmd: cfg.RouteCmd, PacketCmd: cfg.PacketCmd}
	if cfg.RouteCmd != "" {
		opts = append(opts, tfm.WithNetwork(n))
	}
	if cfg.PacketCmd != "" {
		opts = append(opts, tfm.WithReplayer(tfm.NetworkReplayer{Network: n}))
	}
	opts = append(opts, tfm.Registry(prometheus.DefaultRegisterer))
	mgr := tfm.NewManager(opts...)

	d := &connpool.Dialer{MaxConnPerHost: 1}
	var clients []*mbconf.Client
	for _, desc := range cfg.Middleboxes {
		var cmd tfm.Commander
		if desc.Mgmt != "" {
			c := mbconf.New(cfg.MBConfig(desc), d)
			clients = append(clients, c)
			cmd = c
		}
		if err := mgr.AddMiddlebox(tfm.NewMiddlebox(desc, cmd)); err != nil {
			glog.Fatalf("cannot add middlebox %v: %v", desc.ID, err)
		}
	}

	srv := tfm.NewServer(mgr, prometheus.DefaultGatherer)
	if err := srv.ListenAndServe(cfg.Addr); err != nil {
		glog.Errorf("server stopped: %v", err)
	}
	mgr.Stop()
	for _, c := range clients {
		c.Close()
	}
}
