// Package ship is an in-memory registry of the entities a level is made of:
// player donuts, hull breaches, doors (dual tasks), paired buttons and the
// stabilizer challenge. It implements controller.State and is advanced by
// Step once per frame.
package ship

import (
	"math"
	"math/rand/v2"

	"github.com/1ureka/sweetspace/internal/protocol"
)

const (
	// DefaultSize is the circumference of the ship in degrees.
	DefaultSize = 360
	// BreachHealth is how many times a breach must be patched.
	BreachHealth = 3
	// JumpTime is how long a jump lasts, in seconds.
	JumpTime = 0.6
	// ChallengeLength is how long the stabilizer challenge lasts, in seconds.
	ChallengeLength = 15

	breachDamage = 0.25 // health lost per second per open breach
	clearance    = 15   // degrees kept free around hazards when teleporting
)

// Layout sizes a ship for a level.
type Layout struct {
	Players  int
	PlayerID uint8
	Breaches int
	Doors    int
	Buttons  int
	Health   float32
	Time     float32 // seconds on the clock; 0 means the level is timeless
	Size     float32
	Seed     uint64
}

// Donut is a player.
type Donut struct {
	Angle    float32
	Velocity float32
	Active   bool
	jumpLeft float32
}

// Jumping reports whether the donut is in the air.
func (d *Donut) Jumping() bool { return d.jumpLeft > 0 }

// Breach is a hole in the hull assigned to one player.
type Breach struct {
	Angle  float32
	Player uint8
	Health uint8
	Active bool
	known  bool // created at some point this level
}

// Door needs two players standing on it at once.
type Door struct {
	Angle     float32
	PlayersOn uint8 // bitmask of player ids
	Active    bool
}

// Resolved reports whether at least two players are on the door.
func (d *Door) Resolved() bool { return bitCount(d.PlayersOn) >= 2 }

// Button is one half of a pair that must be pressed together.
type Button struct {
	Angle    float32
	Pair     uint8
	Pressed  bool
	Resolved bool
	Active   bool
}

// Challenge is the stabilizer task every player must join.
type Challenge struct {
	Active   bool
	Progress uint8
	RollDir  uint8
	timeLeft float32
}

// Ship holds every entity of the level being played.
type Ship struct {
	Size      float32
	Health    float32
	Timer     float32
	Timeless  bool
	PlayerID  uint8
	Donuts    []Donut
	Breaches  []Breach
	Doors     []Door
	Buttons   []Button
	Challenge Challenge

	// StabilizerTutorial is set once a stabilizer challenge succeeds.
	StabilizerTutorial bool

	initHealth float32
	rng        *rand.Rand
}

// New builds an empty ship. Every donut starts active.
func New(l Layout) *Ship {
	if l.Size <= 0 {
		l.Size = DefaultSize
	}
	s := &Ship{
		Size:       l.Size,
		Health:     l.Health,
		Timer:      l.Time,
		Timeless:   l.Time <= 0,
		PlayerID:   l.PlayerID,
		Donuts:     make([]Donut, l.Players),
		Breaches:   make([]Breach, l.Breaches),
		Doors:      make([]Door, l.Doors),
		Buttons:    make([]Button, l.Buttons),
		initHealth: l.Health,
		rng:        rand.New(rand.NewPCG(l.Seed, uint64(l.PlayerID))),
	}
	for i := range s.Donuts {
		s.Donuts[i].Active = true
	}
	return s
}

// Won reports whether the clock ran out with the hull intact.
func (s *Ship) Won() bool {
	return !s.Timeless && s.Timer <= 0 && s.Health > 0
}

// Step advances the level by dt seconds.
func (s *Ship) Step(dt float32) {
	if s.LevelOver() {
		return
	}
	for i := range s.Donuts {
		d := &s.Donuts[i]
		if !d.Active {
			continue
		}
		d.Angle = s.wrap(d.Angle + d.Velocity*dt)
		if d.jumpLeft > 0 {
			d.jumpLeft = max(0, d.jumpLeft-dt)
		}
	}

	for _, b := range s.Breaches {
		if b.Active && b.Health > 0 {
			s.Health -= breachDamage * dt
		}
	}
	s.Health = max(0, s.Health)

	if s.Challenge.Active {
		s.Challenge.timeLeft -= dt
		if s.Challenge.timeLeft <= 0 {
			s.Challenge.Active = false
		}
	}
	if !s.Timeless {
		s.Timer = max(0, s.Timer-dt)
	}
}

func (s *Ship) wrap(angle float32) float32 {
	a := float32(math.Mod(float64(angle), float64(s.Size)))
	if a < 0 {
		a += s.Size
	}
	return a
}

// ---------------------------------------------------------------------------
// controller.State
// ---------------------------------------------------------------------------

func (s *Ship) LevelOver() bool {
	return s.Health <= 0 || (!s.Timeless && s.Timer <= 0)
}

func (s *Ship) PlayerMotion(id uint8) (angle, velocity float32) {
	if int(id) >= len(s.Donuts) {
		return protocol.NoValue(), protocol.NoValue()
	}
	d := s.Donuts[id]
	return d.Angle, d.Velocity
}

func (s *Ship) SetPlayerMotion(id uint8, angle, velocity float32) {
	if int(id) >= len(s.Donuts) || protocol.IsAbsent(angle) {
		return
	}
	s.Donuts[id].Angle = s.wrap(angle)
	if !protocol.IsAbsent(velocity) {
		s.Donuts[id].Velocity = velocity
	}
}

func (s *Ship) StartJump(id uint8) {
	if int(id) < len(s.Donuts) && !s.Donuts[id].Jumping() {
		s.Donuts[id].jumpLeft = JumpTime
	}
}

func (s *Ship) SetPlayerActive(id uint8, active bool) {
	if int(id) < len(s.Donuts) {
		s.Donuts[id].Active = active
	}
}

func (s *Ship) CreateBreach(angle float32, player, id uint8) {
	if int(id) >= len(s.Breaches) {
		return
	}
	s.Breaches[id] = Breach{Angle: s.wrap(angle), Player: player, Health: BreachHealth, Active: true, known: true}
}

// ResolveBreach patches breach id once. A fully patched breach closes.
func (s *Ship) ResolveBreach(id uint8) {
	if int(id) >= len(s.Breaches) || !s.Breaches[id].Active {
		return
	}
	b := &s.Breaches[id]
	if b.Health > 0 {
		b.Health--
	}
	if b.Health == 0 {
		b.Active = false
	}
}

func (s *Ship) CreateDoor(angle float32, id uint8) {
	if int(id) >= len(s.Doors) {
		return
	}
	s.Doors[id] = Door{Angle: s.wrap(angle), Active: true}
}

// FlagDoor puts player on (flag != 0) or off door id.
func (s *Ship) FlagDoor(id, player, flag uint8) {
	if int(id) >= len(s.Doors) || player >= 8 {
		return
	}
	if flag == 0 {
		s.Doors[id].PlayersOn &^= 1 << player
	} else {
		s.Doors[id].PlayersOn |= 1 << player
	}
}

// CreateButton activates buttons id1 and id2 as a pair.
func (s *Ship) CreateButton(angle1 float32, id1 uint8, angle2 float32, id2 uint8) {
	if int(id1) >= len(s.Buttons) || int(id2) >= len(s.Buttons) {
		return
	}
	s.Buttons[id1] = Button{Angle: s.wrap(angle1), Pair: id2, Active: true}
	s.Buttons[id2] = Button{Angle: s.wrap(angle2), Pair: id1, Active: true}
}

func (s *Ship) FlagButton(id uint8) {
	if int(id) < len(s.Buttons) && s.Buttons[id].Active {
		s.Buttons[id].Pressed = true
	}
}

// ResolveButton resolves id together with its pair.
func (s *Ship) ResolveButton(id uint8) {
	if int(id) >= len(s.Buttons) {
		return
	}
	b := &s.Buttons[id]
	if !b.Active || b.Resolved {
		return
	}
	b.Resolved = true
	if int(b.Pair) < len(s.Buttons) {
		s.Buttons[b.Pair].Resolved = true
	}
}

func (s *Ship) CreateAllTask() {
	s.Challenge = Challenge{
		Active:   true,
		RollDir:  uint8(s.rng.IntN(2)),
		timeLeft: ChallengeLength,
	}
}

// FailAllTask scatters every donut to a spot clear of breaches and doors.
func (s *Ship) FailAllTask() {
	s.Challenge.Active = false
	for i := range s.Donuts {
		s.Donuts[i].Angle = s.clearAngle()
	}
}

func (s *Ship) clearAngle() float32 {
	var angle float32
	for range 64 {
		angle = float32(s.rng.IntN(int(s.Size)))
		if s.clear(angle) {
			break
		}
	}
	return angle
}

func (s *Ship) clear(angle float32) bool {
	for _, b := range s.Breaches {
		if b.Active && s.distance(b.Angle, angle) <= clearance {
			return false
		}
	}
	for _, d := range s.Doors {
		if d.Active && s.distance(d.Angle, angle) <= clearance {
			return false
		}
	}
	return true
}

// distance is the shortest arc between two angles.
func (s *Ship) distance(a, b float32) float32 {
	d := float32(math.Abs(float64(a - b)))
	return min(d, s.Size-d)
}

func (s *Ship) SucceedAllTask() {
	s.Challenge.Active = false
	s.StabilizerTutorial = true
}

// ForceWin ends the level as a win.
func (s *Ship) ForceWin() {
	s.Timeless = false
	s.Timer = 0
}

func bitCount(b uint8) int {
	n := 0
	for ; b != 0; b &= b - 1 {
		n++
	}
	return n
}

// HealthFraction is the hull health relative to the level's start.
func (s *Ship) HealthFraction() float32 {
	if s.initHealth <= 0 {
		return 0
	}
	return s.Health / s.initHealth
}
