// Rendezvous server for Sweetspace.
//
// Peers connect over WebSocket to open rooms, resolve room codes and punch
// through to each other. No gameplay traffic passes through it.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/pflag"

	"github.com/1ureka/sweetspace/internal/config"
	"github.com/1ureka/sweetspace/internal/rendezvous"
	"github.com/1ureka/sweetspace/internal/util"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	flags := pflag.NewFlagSet("rendezvous", pflag.ContinueOnError)
	listen := flags.String("listen", cfg.Server.ListenAddr, "address to listen on")
	logLevel := flags.String("log-level", cfg.LogLevel, "trace, debug, info, warn or error")
	debug := flags.Bool("debug", false, "enable debug logging")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		util.LogError("%v", err)
		os.Exit(1)
	}

	if err := util.SetLogLevel(*logLevel); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	if *debug {
		util.EnableDebug()
	}

	util.StartStatsReporter(ctx, cfg.Server.StatsInterval)

	srv := rendezvous.NewServer()
	if err := srv.ListenAndServe(ctx, *listen); err != nil {
		util.LogError("server stopped: %v", err)
		os.Exit(1)
	}
	util.LogInfo("rendezvous server closed with %d rooms open", srv.Rooms())
}
