package tfm

import (
	"flag"
	"time"

	"github.com/nfvproject/TFM/mbconf"
	"github.com/nfvproject/TFM/nom"

	tfmflag "github.com/nfvproject/TFM/flag"
)

// Config is the configuration of the controller.
type Config struct {
	Addr        string          // Listening address of the API and state channels.
	Middleboxes []nom.Middlebox // Middlebox inventory.
	MBUser      string          // User of middlebox configuration channels.
	MBPassword  string          // Password of middlebox configuration channels.
	MBPrompt    string          // Prompt of middlebox configuration channels.
	MBTimeout   time.Duration   // Timeout of configuration channel commands.
	RouteCmd    string          // Command that reroutes flows between middleboxes.
	PacketCmd   string          // Command that sends packets out of switch ports.
}

// DefaultCfg is the configuration loaded from command line flags.
var DefaultCfg = Config{}

// MBConfig returns the configuration channel client config of mb.
func (c Config) MBConfig(mb nom.Middlebox) mbconf.Config {
	return mbconf.Config{
		Addr:     mb.Mgmt,
		User:     c.MBUser,
		Password: c.MBPassword,
		Prompt:   c.MBPrompt,
		Timeout:  c.MBTimeout,
	}
}

func init() {
	flag.StringVar(&DefaultCfg.Addr, "laddr", "localhost:9797",
		"listening address of the REST API and middlebox state channels")
	flag.Var(tfmflag.Middleboxes{M: &DefaultCfg.Middleboxes}, "mbs",
		"middleboxes in the form of ID=NODE:PORT@MGMT. Separate entries with "+
			"a comma")
	flag.StringVar(&DefaultCfg.MBUser, "mbuser", "",
		"user of middlebox configuration channels. No login if empty")
	flag.StringVar(&DefaultCfg.MBPassword, "mbpass", "",
		"password of middlebox configuration channels")
	flag.StringVar(&DefaultCfg.MBPrompt, "mbprompt", mbconf.DefaultPrompt,
		"prompt of middlebox configuration channels")
	flag.DurationVar(&DefaultCfg.MBTimeout, "mbtimeout", 5*time.Second,
		"timeout of commands on middlebox configuration channels")
	flag.StringVar(&DefaultCfg.RouteCmd, "routecmd", "",
		"command run to reroute flows. It receives the flow selector and the "+
			"source and destination switch ports as arguments")
	flag.StringVar(&DefaultCfg.PacketCmd, "packetcmd", "",
		"command run to send a packet out of a switch port. It receives the "+
			"port and the hex-encoded packet as arguments")
}
