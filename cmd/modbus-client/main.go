// Command modbus-client is a small TCP Modbus client CLI, the spec-driven
// successor to the teacher's examples/tcp_client and
// examples/tcp_client_diagnostic programs. It reads a handful of holding
// registers from a remote server and prints them, using
// github.com/jessevdk/go-flags for option parsing the way
// _examples/rolfl-modbus/mbcli/mbcli.go structures its CLI.
package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/serhmarch/gomodbuslib/client"
	"github.com/serhmarch/gomodbuslib/config"
	"github.com/serhmarch/gomodbuslib/port"
	"github.com/serhmarch/gomodbuslib/signal"
)

type options struct {
	Host    string `long:"host" default:"localhost" description:"TCP server hostname or IP"`
	Port    int    `long:"port" default:"502" description:"TCP server port"`
	Unit    uint8  `long:"unit" default:"1" description:"Modbus unit id"`
	Offset  int    `long:"offset" default:"0" description:"Holding register start offset"`
	Count   int    `long:"count" default:"1" description:"Number of holding registers to read"`
	Verbose bool   `long:"verbose" short:"v" description:"Enable debug logging"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}

	log := newLogger(opts.Verbose)
	defer log.Sync()

	sig := signal.NewRegistry()
	sig.Connect(signal.Error, func(args any) {
		if e, ok := args.(signal.ErrorArgs); ok {
			fmt.Fprintf(os.Stderr, "error: %s: %s\n", e.Source, e.Text)
		}
	})

	settings := config.NewSettings()
	settings[config.KeyHost] = opts.Host
	settings[config.KeyPort] = fmt.Sprintf("%d", opts.Port)

	p := port.NewTCPClientPort(fmt.Sprintf("%s:%d", opts.Host, opts.Port), settings.TCPSettings(), true, sig, log)
	c := client.New(p, opts.Unit)

	out := make([]uint16, opts.Count)
	if st := c.ReadHoldingRegisters(opts.Offset, opts.Count, out); !st.IsGood() {
		fmt.Fprintf(os.Stderr, "read holding registers: %s\n", st)
		os.Exit(1)
	}

	for i, v := range out {
		fmt.Printf("register[%d] = %d (0x%04X)\n", opts.Offset+i, v, v)
	}
}

func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	log, err := cfg.Build()
	if err != nil {
		log = zap.NewNop()
	}
	return log
}
