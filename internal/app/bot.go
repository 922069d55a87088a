package app

import (
	"math/rand/v2"

	"github.com/1ureka/sweetspace/internal/ship"
)

const (
	botSpeed      = 90  // degrees per second
	botReach      = 4   // degrees from a breach to patch it
	patchCooldown = 0.3 // seconds between patches
	jumpRate      = 0.2 // jumps per second
	spawnEvery    = 2   // seconds between host breaches
)

// Actions is what the bot sends over the network.
type Actions interface {
	CreateBreach(angle float32, player, id uint8)
	ResolveBreach(id uint8)
	Jump(player uint8)
	NextLevel()
	RestartGame()
}

// Bot plays one donut: it walks to the breaches assigned to it and patches
// them. The host's bot also opens breaches and moves the game along when a
// level ends.
type Bot struct {
	net  Actions
	ship *ship.Ship
	host bool
	rng  *rand.Rand

	patchLeft float32
	spawnLeft float32
}

func NewBot(net Actions, s *ship.Ship, host bool, seed uint64) *Bot {
	return &Bot{
		net:       net,
		ship:      s,
		host:      host,
		rng:       rand.New(rand.NewPCG(seed, 0x5eed)),
		spawnLeft: spawnEvery,
	}
}

// Act runs one frame of dt seconds.
func (b *Bot) Act(dt float32) {
	s := b.ship
	if s.LevelOver() {
		if b.host {
			if s.Won() {
				b.net.NextLevel()
			} else {
				b.net.RestartGame()
			}
		}
		return
	}

	me := s.PlayerID
	if int(me) >= len(s.Donuts) {
		return
	}
	b.patchLeft = max(0, b.patchLeft-dt)

	velocity := float32(0)
	if id, ok := b.target(); ok {
		diff := b.arc(s.Donuts[me].Angle, s.Breaches[id].Angle)
		switch {
		case diff > botReach:
			velocity = botSpeed
		case diff < -botReach:
			velocity = -botSpeed
		case b.patchLeft == 0:
			b.net.ResolveBreach(id)
			s.ResolveBreach(id)
			b.patchLeft = patchCooldown
		}
	}
	s.Donuts[me].Velocity = velocity

	if b.rng.Float32() < jumpRate*dt && !s.Donuts[me].Jumping() {
		b.net.Jump(me)
		s.StartJump(me)
	}

	if b.host {
		b.spawnLeft -= dt
		if b.spawnLeft <= 0 {
			b.spawnLeft = spawnEvery
			b.spawn()
		}
	}
}

// target is the closest open breach assigned to this player.
func (b *Bot) target() (uint8, bool) {
	s := b.ship
	me := s.Donuts[s.PlayerID].Angle
	best, found := uint8(0), false
	var bestDist float32
	for i, br := range s.Breaches {
		if !br.Active || br.Player != s.PlayerID {
			continue
		}
		d := abs(b.arc(me, br.Angle))
		if !found || d < bestDist {
			best, bestDist, found = uint8(i), d, true
		}
	}
	return best, found
}

// arc is the signed shortest distance from a to b.
func (b *Bot) arc(from, to float32) float32 {
	size := b.ship.Size
	d := to - from
	for d > size/2 {
		d -= size
	}
	for d <= -size/2 {
		d += size
	}
	return d
}

// spawn opens a breach in a free slot for a random active player.
func (b *Bot) spawn() {
	s := b.ship
	slot := -1
	for i, br := range s.Breaches {
		if !br.Active {
			slot = i
			break
		}
	}
	var players []uint8
	for i, d := range s.Donuts {
		if d.Active {
			players = append(players, uint8(i))
		}
	}
	if slot < 0 || len(players) == 0 {
		return
	}
	player := players[b.rng.IntN(len(players))]
	angle := float32(b.rng.IntN(int(s.Size)))
	b.net.CreateBreach(angle, player, uint8(slot))
	s.CreateBreach(angle, player, uint8(slot))
}

func abs(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}
