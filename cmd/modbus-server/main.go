// Command modbus-server is a small TCP Modbus server CLI, the spec-driven
// successor to the teacher's examples/tcp_server and
// examples/advanced_server programs. It serves an in-memory device.Store
// over TCP, driving the listener's cooperative tick loop through
// Listener.Serve.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/serhmarch/gomodbuslib/device"
	"github.com/serhmarch/gomodbuslib/listener"
	gmsignal "github.com/serhmarch/gomodbuslib/signal"
)

type options struct {
	Host      string `long:"host" default:"" description:"TCP bind address (empty binds all interfaces)"`
	Port      int    `long:"port" default:"502" description:"TCP listen port"`
	MaxConn   int    `long:"maxconn" default:"10" description:"Maximum simultaneous connections"`
	Coils     int    `long:"coils" default:"64" description:"Coil count"`
	Discretes int    `long:"discretes" default:"64" description:"Discrete input count"`
	Holding   int    `long:"holding" default:"64" description:"Holding register count"`
	Input     int    `long:"input" default:"64" description:"Input register count"`
	Broadcast bool   `long:"broadcast" description:"Accept unit 0 as broadcast"`
	Verbose   bool   `long:"verbose" short:"v" description:"Enable debug logging"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}

	log := newLogger(opts.Verbose)
	defer log.Sync()

	sig := gmsignal.NewRegistry()
	sig.Connect(gmsignal.NewConnection, func(args any) {
		if a, ok := args.(gmsignal.ConnArgs); ok {
			fmt.Printf("connected: %s\n", a.Remote)
		}
	})
	sig.Connect(gmsignal.CloseConnection, func(args any) {
		if a, ok := args.(gmsignal.ConnArgs); ok {
			fmt.Printf("disconnected: %s\n", a.Remote)
		}
	})

	store := device.NewStore(opts.Coils, opts.Discretes, opts.Holding, opts.Input)

	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	l := listener.New(addr, opts.MaxConn, store, sig, log)
	l.Broadcast = opts.Broadcast
	if st := l.Open(); !st.IsGood() {
		fmt.Fprintf(os.Stderr, "listen on %s: %s\n", addr, st)
		os.Exit(1)
	}
	fmt.Printf("serving on %s\n", addr)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go l.Serve(done)

	<-stop
	close(done)
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
