package controller

import "github.com/1ureka/sweetspace/internal/protocol"

// State is the game-state collaborator the controller reads from and
// mutates. Every inbound gameplay message maps to at most one call.
type State interface {
	// Snapshot captures every dynamic entity for a state sync.
	Snapshot(level uint8, parity bool) *protocol.Snapshot
	// Reconcile merges the host's snapshot. It is only called when the
	// snapshot is for the current level.
	Reconcile(s *protocol.Snapshot)
	LevelOver() bool

	PlayerMotion(id uint8) (angle, velocity float32)
	SetPlayerMotion(id uint8, angle, velocity float32)
	StartJump(id uint8)
	SetPlayerActive(id uint8, active bool)

	CreateBreach(angle float32, player, id uint8)
	ResolveBreach(id uint8)
	CreateDoor(angle float32, id uint8)
	FlagDoor(id, player, flag uint8)
	CreateButton(angle1 float32, id1 uint8, angle2 float32, id2 uint8)
	FlagButton(id uint8)
	ResolveButton(id uint8)
	CreateAllTask()
	FailAllTask()
	SucceedAllTask()
	ForceWin()
}
