// Sweetspace is a headless game client.
//
// Hosts a room or joins one through the rendezvous server, then plays with a
// bot at a fixed frame rate. Gameplay travels peer to peer over WebRTC
// DataChannels; the rendezvous server is only used to find peers.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (--role, --room, --server, --players).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/pflag"

	"github.com/1ureka/sweetspace/internal/app"
	"github.com/1ureka/sweetspace/internal/config"
	"github.com/1ureka/sweetspace/internal/session"
	"github.com/1ureka/sweetspace/internal/transport"
	"github.com/1ureka/sweetspace/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	flags := pflag.NewFlagSet("sweetspace", pflag.ContinueOnError)
	role := flags.String("role", "", "role: host or client (interactive when empty)")
	room := flags.String("room", cfg.Room, "room code to join (client only)")
	server := flags.String("server", cfg.Transport.ServerURL, "rendezvous server WebSocket URL")
	players := flags.Int("players", 2, "players to wait for before the host starts the game")
	level := flags.Uint8("level", 1, "first level")
	fps := flags.Int("fps", 60, "frames per second")
	seed := flags.Uint64("seed", 1, "bot random seed")
	logLevel := flags.String("log-level", cfg.LogLevel, "trace, debug, info, warn or error")
	logFile := flags.String("log-file", "", "append logs to this file instead of stderr")
	debug := flags.Bool("debug", false, "enable debug logging")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	if err := util.SetLogLevel(*logLevel); err != nil {
		return err
	}
	if *debug {
		util.EnableDebug()
	}
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		util.SetLogOutput(f)
	}

	pterm.Info.Println(fmt.Sprintf("Sweetspace — v%s", version))
	pterm.Println()

	if *role == "" {
		*role, *room = askRole()
	}
	cfg.Role = config.Role(*role)
	cfg.Room = strings.TrimSpace(*room)
	cfg.Transport.ServerURL = *server
	if err := cfg.Validate(); err != nil {
		return err
	}
	if *players < 1 || *players > cfg.Session.MaxPlayers {
		return fmt.Errorf("--players must be in [1, %d]", cfg.Session.MaxPlayers)
	}
	if int(*level) >= cfg.Sync.MaxLevels {
		return fmt.Errorf("--level must be below %d", cfg.Sync.MaxLevels)
	}
	if *fps < 1 {
		return fmt.Errorf("--fps must be positive")
	}

	util.StartStatsReporter(ctx, cfg.Server.StatsInterval)

	g := app.NewGame(cfg, transport.WebRTCDialer(cfg.Transport), app.Options{
		Role:       cfg.Role,
		Room:       cfg.Room,
		Players:    *players,
		StartLevel: *level,
		Seed:       *seed,
	})
	if err := app.Run(ctx, g, *fps); err != nil {
		return err
	}
	util.LogInfo("left the game")
	return nil
}

// askRole falls back to interactive prompts when no --role flag is given.
func askRole() (role, room string) {
	choice, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Host   — Open a new room", "Client — Join a room"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	if strings.HasPrefix(choice, "Host") {
		return string(config.RoleHost), ""
	}
	return string(config.RoleClient), askRoom()
}

// askRoom prompts for a room code until a well-formed one is entered.
func askRoom() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Room code (5 characters)").
			Show()

		code := strings.TrimSpace(raw)
		if session.ValidRoomCode(code) {
			pterm.Println()
			return code
		}

		pterm.Println()
		util.LogWarning("invalid room code: expected 5 printable characters")
	}
}
