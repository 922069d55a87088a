package ship

import "github.com/1ureka/sweetspace/internal/protocol"

// Snapshot captures the ship for a state sync. Inactive breaches, doors and
// buttons carry an absent angle.
func (s *Ship) Snapshot(level uint8, parity bool) *protocol.Snapshot {
	snap := &protocol.Snapshot{
		Level:    level,
		Parity:   parity,
		Health:   s.Health,
		Players:  make([]protocol.PlayerState, len(s.Donuts)),
		Breaches: make([]protocol.BreachState, len(s.Breaches)),
		Doors:    make([]protocol.DoorState, len(s.Doors)),
		Buttons:  make([]protocol.ButtonState, len(s.Buttons)),
		Challenge: protocol.ChallengeState{
			Active:   s.Challenge.Active,
			Progress: s.Challenge.Progress,
			RollDir:  s.Challenge.RollDir,
		},
	}

	for i, d := range s.Donuts {
		snap.Players[i] = protocol.PlayerState{Angle: d.Angle, Velocity: d.Velocity}
	}
	for i, b := range s.Breaches {
		snap.Breaches[i] = protocol.BreachState{Angle: activeAngle(b.Active, b.Angle), Player: b.Player, Health: b.Health}
	}
	for i, d := range s.Doors {
		snap.Doors[i] = protocol.DoorState{Angle: activeAngle(d.Active, d.Angle), PlayersOn: d.PlayersOn}
	}
	for i, b := range s.Buttons {
		snap.Buttons[i] = protocol.ButtonState{
			Angle:    activeAngle(b.Active, b.Angle),
			Pair:     b.Pair,
			Pressed:  b.Pressed,
			Resolved: b.Resolved,
		}
	}
	return snap
}

func activeAngle(active bool, angle float32) float32 {
	if !active {
		return protocol.NoValue()
	}
	return angle
}

// Reconcile merges the host's snapshot into the local ship.
//
// The host is authoritative for which entities exist and for hull health.
// Local progress that the host may not have seen yet survives: breach
// patches only ever lower health, resolved buttons stay resolved, and this
// player's own position and door occupancy are never overwritten.
func (s *Ship) Reconcile(snap *protocol.Snapshot) {
	s.Health = snap.Health

	for i := 0; i < min(len(s.Donuts), len(snap.Players)); i++ {
		if uint8(i) == s.PlayerID {
			continue
		}
		p := snap.Players[i]
		s.SetPlayerMotion(uint8(i), p.Angle, p.Velocity)
	}

	for i := 0; i < min(len(s.Breaches), len(snap.Breaches)); i++ {
		remote, local := snap.Breaches[i], &s.Breaches[i]
		switch {
		case protocol.IsAbsent(remote.Angle):
			local.Active = false
		case local.known && local.Player == remote.Player && s.distance(local.Angle, remote.Angle) <= 1:
			local.Health = min(local.Health, remote.Health)
			local.Active = local.Health > 0
		default:
			*local = Breach{Angle: remote.Angle, Player: remote.Player, Health: remote.Health, Active: remote.Health > 0, known: true}
		}
	}

	own := uint8(1) << s.PlayerID
	for i := 0; i < min(len(s.Doors), len(snap.Doors)); i++ {
		remote, local := snap.Doors[i], &s.Doors[i]
		if protocol.IsAbsent(remote.Angle) {
			local.Active = false
			local.PlayersOn = 0
			continue
		}
		local.Angle = remote.Angle
		local.Active = true
		local.PlayersOn = remote.PlayersOn&^own | local.PlayersOn&own
	}

	for i := 0; i < min(len(s.Buttons), len(snap.Buttons)); i++ {
		remote, local := snap.Buttons[i], &s.Buttons[i]
		if protocol.IsAbsent(remote.Angle) {
			local.Active = false
			continue
		}
		resolved := local.Active && local.Resolved
		*local = Button{
			Angle:    remote.Angle,
			Pair:     remote.Pair,
			Pressed:  remote.Pressed,
			Resolved: remote.Resolved || resolved,
			Active:   true,
		}
	}

	if snap.Challenge.Active && !s.Challenge.Active {
		s.Challenge.timeLeft = ChallengeLength
	}
	s.Challenge.Active = snap.Challenge.Active
	s.Challenge.RollDir = snap.Challenge.RollDir
	s.Challenge.Progress = max(s.Challenge.Progress, snap.Challenge.Progress)
}
