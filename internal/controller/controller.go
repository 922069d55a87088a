// Package controller drives a game session: it turns connection progress
// into matchmaking statuses, runs the position and state-sync ticks, and
// translates between gameplay calls and wire messages.
//
// Like the session it wraps, a Controller is single-threaded and expects
// exactly one Update call per frame.
package controller

import (
	"errors"
	"time"

	"github.com/1ureka/sweetspace/internal/config"
	"github.com/1ureka/sweetspace/internal/protocol"
	"github.com/1ureka/sweetspace/internal/session"
	"github.com/1ureka/sweetspace/internal/transport"
	"github.com/1ureka/sweetspace/internal/util"
)

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Option customizes a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock for the controller and its sessions.
func WithClock(c session.Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// Controller is one player's view of a networked game.
type Controller struct {
	cfg   config.Config
	dial  transport.DialFunc
	clock session.Clock

	sess   *session.Session
	status Status
	event  Event

	level    uint8
	hasLevel bool
	parity   bool

	frame     int
	sinceLast int

	lastAttempt time.Time
	attempted   bool
}

// New returns an uninitialized controller. dial creates transport handles
// for every session it opens.
func New(cfg config.Config, dial transport.DialFunc, opts ...Option) *Controller {
	c := &Controller{
		cfg:    cfg,
		dial:   dial,
		clock:  realClock{},
		status: Uninitialized,
		parity: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ---------------------------------------------------------------------------
// Initialization
// ---------------------------------------------------------------------------

// initConnection rate-limits connection attempts.
func (c *Controller) initConnection() bool {
	if !c.status.canInit() {
		util.LogWarning("controller already initialized (%s)", c.status)
		return false
	}

	now := c.clock.Now()
	if c.attempted && now.Sub(c.lastAttempt) < c.cfg.Sync.RetryWait {
		util.LogWarning("connection attempt too fast; wait %s", c.cfg.Sync.RetryWait)
		return false
	}
	c.attempted = true
	c.lastAttempt = now

	c.closeSession()
	c.hasLevel = false
	c.parity = true
	c.event = EventNone
	c.frame, c.sinceLast = 0, 0
	return true
}

// InitHost opens a new room. It reports whether a connection was started.
func (c *Controller) InitHost() bool {
	if !c.initConnection() {
		if c.status.canInit() {
			c.status = HostError
		}
		return false
	}

	s, err := session.NewHost(c.cfg.Session, c.dial, session.WithClock(c.clock))
	if err != nil {
		util.LogError("host: %v", err)
		c.status = HostError
		return false
	}
	c.sess = s
	c.status = HostConnecting
	return true
}

// InitClient joins the room with the given code.
func (c *Controller) InitClient(roomCode string) bool {
	if !c.initConnection() {
		if c.status.canInit() {
			c.status = ClientError
		}
		return false
	}

	s, err := session.NewClient(c.cfg.Session, c.dial, roomCode, session.WithClock(c.clock))
	if err != nil {
		util.LogError("join: %v", err)
		c.status = ClientError
		if errors.Is(err, session.ErrInvalidRoomCode) {
			c.status = ClientRoomInvalid
		}
		return false
	}
	c.sess = s
	c.status = ClientConnecting
	return true
}

// Leave tears the session down and resets the controller.
func (c *Controller) Leave() {
	if c.sess != nil {
		util.LogInfo("leaving room %s", c.sess.RoomCode())
	}
	c.closeSession()
	c.status = Uninitialized
	c.event = EventNone
	c.hasLevel = false
	c.frame, c.sinceLast = 0, 0
}

func (c *Controller) closeSession() {
	if c.sess == nil {
		return
	}
	if err := c.sess.Close(); err != nil {
		util.LogDebug("closing session: %v", err)
	}
	c.sess = nil
}

// ---------------------------------------------------------------------------
// Getters
// ---------------------------------------------------------------------------

func (c *Controller) Status() Status { return c.status }

// LastEvent returns the last unacknowledged network event.
func (c *Controller) LastEvent() Event { return c.event }

// AcknowledgeEvent clears the last network event.
func (c *Controller) AcknowledgeEvent() { c.event = EventNone }

// Level returns the current level, once one has been started.
func (c *Controller) Level() (uint8, bool) { return c.level, c.hasLevel }

// Parity flips every time a level is (re)started.
func (c *Controller) Parity() bool { return c.parity }

func (c *Controller) RoomCode() string {
	if c.sess == nil {
		return ""
	}
	return c.sess.RoomCode()
}

func (c *Controller) PlayerID() (uint8, bool) {
	if c.sess == nil {
		return 0, false
	}
	return c.sess.PlayerID()
}

func (c *Controller) IsHost() bool {
	return c.sess != nil && c.sess.IsHost()
}

func (c *Controller) NumPlayers() uint8 {
	if c.sess == nil {
		return 0
	}
	return c.sess.NumPlayers()
}

// TotalPlayers counts players in the game, including disconnected ones.
func (c *Controller) TotalPlayers() uint8 {
	if c.sess == nil {
		return 0
	}
	return c.sess.TotalPlayers()
}

func (c *Controller) IsPlayerActive(id uint8) bool {
	return c.sess != nil && c.sess.IsPlayerActive(id)
}

// ---------------------------------------------------------------------------
// Game management
// ---------------------------------------------------------------------------

// StartGame locks the room and starts level on every peer. Host only.
func (c *Controller) StartGame(level uint8) {
	if c.status != HostWaitingForPlayers {
		util.LogWarning("cannot start a game while %s", c.status)
		return
	}
	if int(level) >= c.cfg.Sync.MaxLevels {
		util.LogWarning("level %d is past the last level (%d)", level, c.cfg.Sync.MaxLevels-1)
		return
	}
	if err := c.sess.Send(protocol.EncodeStartGame(level), true); err != nil {
		util.LogWarning("start game: %v", err)
	}
	c.sess.StartGame()
	c.enterGame(level)
}

// RestartGame restarts the current level on every peer.
func (c *Controller) RestartGame() {
	if c.status != GameRunning {
		util.LogWarning("cannot restart while %s", c.status)
		return
	}
	c.parity = !c.parity
	c.sendRaw(protocol.EncodeChangeGame(protocol.LevelChange{Parity: c.parity}))
	c.startLevel(c.level, c.parity)
}

// NextLevel advances every peer to the next level.
func (c *Controller) NextLevel() {
	if c.status != GameRunning {
		util.LogWarning("cannot advance while %s", c.status)
		return
	}
	level := c.level + 1
	c.parity = !c.parity
	c.sendRaw(protocol.EncodeChangeGame(protocol.LevelChange{Next: true, Level: level, Parity: c.parity}))
	c.startLevel(level, c.parity)
}

func (c *Controller) enterGame(level uint8) {
	util.LogSuccess("game running at level %d", level)
	c.status = GameRunning
	c.level, c.hasLevel = level, true
	c.frame, c.sinceLast = 0, 0
}

// startLevel switches level and raises the matching event.
func (c *Controller) startLevel(level uint8, parity bool) {
	c.level, c.hasLevel = level, true
	c.parity = parity
	if int(level) >= c.cfg.Sync.MaxLevels {
		util.LogSuccess("final level complete")
		c.event = EventEndGame
		c.status = GameEnded
		return
	}
	util.LogInfo("loading level %d", level)
	c.event = EventLoadLevel
}

// ForceDisconnect drops the link to the host as if it had failed.
func (c *Controller) ForceDisconnect() {
	if c.sess == nil {
		return
	}
	c.sess.ForceDisconnect()
}

// ---------------------------------------------------------------------------
// Update
// ---------------------------------------------------------------------------

// Update advances networking by one frame. state may be nil until the game
// is running.
func (c *Controller) Update(state State) {
	switch c.status {
	case Uninitialized, HostError, ClientRoomInvalid, ClientRoomFull,
		ClientAPIMismatch, ClientError, ReconnectFailed, GameEnded:
		return
	case GameRunning:
		c.gameUpdate(state)
	case HostConnecting, HostWaitingForPlayers, ClientConnecting,
		ClientWaitingForPlayers, Reconnecting, ReconnectPending:
		c.matchUpdate(state)
	}
}

func (c *Controller) matchUpdate(state State) {
	c.sess.Receive(func(in session.Inbound) {
		c.sinceLast = 0
		if c.status == GameRunning && state != nil {
			c.dispatch(state, in)
			return
		}
		c.matchInbound(state, in)
	})

	if c.sess == nil || (c.status == GameRunning && c.sess.Status() == session.Connected) {
		return
	}
	c.syncStatus()
}

// matchInbound handles what can arrive before the game runs.
func (c *Controller) matchInbound(state State, in session.Inbound) {
	switch in.Kind {
	case session.InboundPlayerJoined, session.InboundPlayerLeft:
		if state != nil {
			state.SetPlayerActive(in.Player, in.Kind == session.InboundPlayerJoined)
		}
		return
	case session.InboundMessage:
	}
	if len(in.Payload) == 0 {
		return
	}

	switch protocol.MessageType(in.Payload[0]) {
	case protocol.StartGame:
		level, err := protocol.DecodeStartGame(in.Payload)
		if err != nil {
			util.LogWarning("start game: %v", err)
			return
		}
		c.enterGame(level)

	case protocol.StateSync:
		if c.status != ReconnectPending && !(c.status == Reconnecting && c.sess.Status() == session.Connected) {
			util.LogDebug("state sync while %s", c.status)
			return
		}
		if len(in.Payload) < 2 {
			return
		}
		level, _ := protocol.DecodeLevel(in.Payload[1])
		if c.hasLevel && level == c.level {
			util.LogSuccess("reconnected at level %d", level)
			c.status = GameRunning
			c.frame, c.sinceLast = 0, 0
			return
		}
		util.LogError("host is on level %d, we are on %d; giving up", level, c.level)
		c.status = ReconnectFailed
		c.closeSession()

	default:
		util.LogDebug("ignoring %s while %s", protocol.MessageType(in.Payload[0]), c.status)
	}
}

// syncStatus maps the session's connection status onto the matchmaking status.
func (c *Controller) syncStatus() {
	if c.sess == nil {
		return
	}
	reconnecting := c.status == Reconnecting || c.status == ReconnectPending
	host := c.sess.IsHost()

	switch c.sess.Status() {
	case session.Pending:
		return

	case session.Connected:
		switch c.status {
		case HostConnecting:
			c.status = HostWaitingForPlayers
			util.LogSuccess("room %s is ready", c.sess.RoomCode())
		case ClientConnecting:
			c.status = ClientWaitingForPlayers
		case Reconnecting:
			if c.sess.Started() && c.hasLevel {
				c.status = ReconnectPending
				if err := c.sess.SendToHost(protocol.EncodeSyncRequest()); err != nil {
					util.LogWarning("state sync request: %v", err)
				}
			} else {
				c.status = ClientWaitingForPlayers
			}
		}
		return

	case session.Reconnecting:
		if c.status != Reconnecting {
			util.LogWarning("lost the host; reconnecting")
		}
		c.status = Reconnecting
		return

	case session.RoomNotFound:
		c.status = ClientRoomInvalid
		if c.sess.RoomFull() {
			c.status = ClientRoomFull
		}

	case session.APIMismatch:
		c.status = ClientAPIMismatch
		if host {
			c.status = HostError
		}

	case session.Disconnected, session.GenericError:
		switch {
		case reconnecting:
			c.status = ReconnectFailed
		case host:
			c.status = HostError
		default:
			c.status = ClientError
		}
	}

	util.LogError("matchmaking ended: %s", c.status)
	c.closeSession()
}

func (c *Controller) gameUpdate(state State) {
	if state == nil {
		util.LogError("game update without a game state")
		return
	}
	id, _ := c.sess.PlayerID()
	host := c.sess.IsHost()

	c.sinceLast++
	c.frame = (c.frame + 1) % c.cfg.Sync.SyncPeriod()
	if c.frame%c.cfg.Sync.NetworkTick == 0 {
		angle, velocity := state.PlayerMotion(id)
		msg := protocol.NewMessage(protocol.PositionUpdate)
		msg.Angle, msg.ID, msg.Data3 = angle, id, velocity
		c.send(msg, false)

		if c.frame == 0 {
			if host && !state.LevelOver() {
				c.sendStateSync(state)
			}
			if !host && c.sinceLast > c.cfg.Sync.ServerTimeout {
				util.LogWarning("no message from the host in %d frames; assuming disconnected", c.sinceLast)
				c.sess.ForceDisconnect()
				c.status = Reconnecting
				return
			}
		}
	}

	c.sess.Receive(func(in session.Inbound) {
		c.sinceLast = 0
		if c.status != GameRunning {
			return
		}
		c.dispatch(state, in)
	})

	if c.status == GameRunning && c.sess.Status() != session.Connected {
		c.syncStatus()
	}
}

func (c *Controller) sendStateSync(state State) {
	snap := state.Snapshot(c.level, c.parity)
	data, err := protocol.EncodeStateSync(snap)
	if err != nil {
		util.LogWarning("state sync: %v", err)
		return
	}
	c.sendRaw(data)
}

// dispatch applies one inbound item to the game state.
func (c *Controller) dispatch(state State, in session.Inbound) {
	switch in.Kind {
	case session.InboundPlayerJoined:
		util.LogInfo("player %d is back", in.Player)
		state.SetPlayerActive(in.Player, true)
		return
	case session.InboundPlayerLeft:
		util.LogInfo("player %d disconnected", in.Player)
		state.SetPlayerActive(in.Player, false)
		return
	case session.InboundMessage:
	}
	if len(in.Payload) == 0 {
		return
	}

	typ := protocol.MessageType(in.Payload[0])
	switch typ {
	case protocol.StateSync:
		if c.IsHost() {
			if len(in.Payload) == 1 && !state.LevelOver() {
				util.LogDebug("player %d asked for a state sync", in.Player)
				c.sendStateSync(state)
			}
			return
		}
		c.reconcile(state, in.Payload)
		return
	case protocol.ChangeGame:
		change, err := protocol.DecodeChangeGame(in.Payload)
		if err != nil {
			util.LogWarning("change game: %v", err)
			return
		}
		level := c.level
		if change.Next {
			level = change.Level
		}
		c.startLevel(level, change.Parity)
		return
	case protocol.StartGame:
		util.LogDebug("ignoring start game while running")
		return
	}

	if !typ.IsGameplay() {
		util.LogWarning("ignoring unknown message type %d", uint8(typ))
		return
	}
	if state.LevelOver() {
		return
	}
	msg, err := protocol.Decode(in.Payload)
	if err != nil {
		util.LogWarning("dropping %s: %v", typ, err)
		return
	}
	c.apply(state, msg)
}

// reconcile merges a state sync when it is for the level being played.
func (c *Controller) reconcile(state State, payload []byte) {
	if state.LevelOver() {
		return
	}
	snap, err := protocol.DecodeStateSync(payload)
	if err != nil {
		util.LogWarning("state sync: %v", err)
		return
	}
	if snap.Level != c.level || snap.Parity != c.parity {
		util.LogDebug("dropping state sync for level %d/%v", snap.Level, snap.Parity)
		return
	}
	state.Reconcile(snap)
}

func (c *Controller) apply(state State, msg *protocol.Message) {
	util.LogTrace("apply %s id=%d", msg.Type, msg.ID)
	switch msg.Type {
	case protocol.PositionUpdate:
		state.SetPlayerMotion(msg.ID, msg.Angle, msg.Data3)
	case protocol.Jump:
		state.StartJump(msg.ID)
	case protocol.BreachCreate:
		util.LogDebug("breach %d at %.2f for player %d", msg.ID, msg.Angle, msg.Data1)
		state.CreateBreach(msg.Angle, msg.Data1, msg.ID)
	case protocol.BreachShrink:
		state.ResolveBreach(msg.ID)
	case protocol.DualCreate:
		state.CreateDoor(msg.Angle, msg.ID)
	case protocol.DualResolve:
		state.FlagDoor(msg.ID, msg.Data1, msg.Data2)
	case protocol.ButtonCreate:
		state.CreateButton(msg.Angle, msg.ID, msg.Data3, msg.Data1)
	case protocol.ButtonFlag:
		state.FlagButton(msg.ID)
	case protocol.ButtonResolve:
		state.ResolveButton(msg.ID)
	case protocol.AllCreate:
		if id, ok := c.sess.PlayerID(); ok && id == msg.ID {
			state.CreateAllTask()
		}
	case protocol.AllFail:
		state.FailAllTask()
	case protocol.AllSucceed:
		state.SucceedAllTask()
	case protocol.ForceWin:
		state.ForceWin()
	}
}
