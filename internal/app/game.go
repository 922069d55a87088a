// Package app contains the top-level orchestration for host and client
// roles: it owns the controller, builds a ship for every level and drives
// both with a bot player at a fixed frame rate.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/sweetspace/internal/config"
	"github.com/1ureka/sweetspace/internal/controller"
	"github.com/1ureka/sweetspace/internal/ship"
	"github.com/1ureka/sweetspace/internal/transport"
	"github.com/1ureka/sweetspace/internal/util"
)

// Options selects what a Game does once connected.
type Options struct {
	Role       config.Role
	Room       string // client only
	Players    int    // host: start once this many players are in the room
	StartLevel uint8
	Seed       uint64
}

// Game is one headless player.
type Game struct {
	cfg  config.Config
	opts Options
	ctl  *controller.Controller

	ship *ship.Ship
	bot  *Bot
	last controller.Status
}

// NewGame wires a controller to dial. Nothing connects until Start.
func NewGame(cfg config.Config, dial transport.DialFunc, opts Options, ctlOpts ...controller.Option) *Game {
	if opts.Players < 1 {
		opts.Players = 2
	}
	return &Game{
		cfg:  cfg,
		opts: opts,
		ctl:  controller.New(cfg, dial, ctlOpts...),
	}
}

func (g *Game) Controller() *controller.Controller { return g.ctl }

// Ship returns the level being played, or nil before the game starts.
func (g *Game) Ship() *ship.Ship { return g.ship }

// Start opens or joins the room.
func (g *Game) Start() error {
	var ok bool
	switch g.opts.Role {
	case config.RoleHost:
		if int(g.opts.StartLevel) >= g.cfg.Sync.MaxLevels {
			return fmt.Errorf("start level %d is past the last level %d", g.opts.StartLevel, g.cfg.Sync.MaxLevels-1)
		}
		ok = g.ctl.InitHost()
	case config.RoleClient:
		ok = g.ctl.InitClient(g.opts.Room)
	default:
		return fmt.Errorf("unknown role %q", g.opts.Role)
	}
	if !ok {
		return fmt.Errorf("%s: could not start (%s)", g.opts.Role, g.ctl.Status())
	}
	g.last = g.ctl.Status()
	return nil
}

// Run steps the game at fps frames per second until ctx is cancelled or
// the game stops.
func Run(ctx context.Context, g *Game, fps int) error {
	if err := g.Start(); err != nil {
		return err
	}
	defer g.ctl.Leave()

	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	dt := 1 / float32(fps)
	for {
		select {
		case <-ticker.C:
			done, err := g.Step(dt)
			if done {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Step advances networking, the ship and the bot by one frame of dt
// seconds. done is set once the game can go no further.
func (g *Game) Step(dt float32) (done bool, err error) {
	var state controller.State
	if g.ship != nil {
		state = g.ship
	}
	g.ctl.Update(state)
	g.report()

	switch st := g.ctl.Status(); st {
	case controller.HostWaitingForPlayers:
		if int(g.ctl.NumPlayers()) >= g.opts.Players {
			util.LogInfo("%d players in room; starting at level %d", g.ctl.NumPlayers(), g.opts.StartLevel)
			g.ctl.StartGame(g.opts.StartLevel)
		}
	case controller.GameEnded:
		return true, nil
	case controller.HostError, controller.ClientRoomInvalid, controller.ClientRoomFull,
		controller.ClientAPIMismatch, controller.ClientError, controller.ReconnectFailed:
		return true, fmt.Errorf("game stopped: %s", st)
	}

	if g.ctl.Status() != controller.GameRunning {
		return false, nil
	}
	if g.ship == nil || g.ctl.LastEvent() == controller.EventLoadLevel {
		g.load()
		g.ctl.AcknowledgeEvent()
	}
	g.ship.Step(dt)
	g.bot.Act(dt)
	return false, nil
}

// load builds the ship for the controller's current level. Every peer
// derives the same layout so state syncs line up.
func (g *Game) load() {
	level, _ := g.ctl.Level()
	id, _ := g.ctl.PlayerID()
	g.ship = ship.New(layoutFor(level, g.cfg.Session.MaxPlayers, id, g.opts.Seed))
	for p := range g.cfg.Session.MaxPlayers {
		g.ship.SetPlayerActive(uint8(p), g.ctl.IsPlayerActive(uint8(p)))
	}
	g.bot = NewBot(g.ctl, g.ship, g.ctl.IsHost(), g.opts.Seed+uint64(id))
	util.LogInfo("level %d loaded (%d breaches, %.0fs)", level, len(g.ship.Breaches), g.ship.Timer)
}

func layoutFor(level uint8, players int, id uint8, seed uint64) ship.Layout {
	return ship.Layout{
		Players:  players,
		PlayerID: id,
		Breaches: 4 + int(level)/4,
		Doors:    2,
		Buttons:  4,
		Health:   10,
		Time:     float32(20 + 2*int(level)),
		Seed:     seed + uint64(level),
	}
}

// report logs status transitions and shows the room code once it is known.
func (g *Game) report() {
	st := g.ctl.Status()
	if st == g.last {
		return
	}
	util.LogDebug("status %s -> %s", g.last, st)
	if st == controller.HostWaitingForPlayers {
		pterm.DefaultBox.WithTitle("Room").Println(g.ctl.RoomCode())
	}
	g.last = st
}
