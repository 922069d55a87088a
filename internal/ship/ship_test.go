package ship

import (
	"math"
	"testing"

	"github.com/1ureka/sweetspace/internal/controller"
	"github.com/1ureka/sweetspace/internal/protocol"
)

// Compile-time interface check.
var _ controller.State = (*Ship)(nil)

func newTestShip(playerID uint8) *Ship {
	return New(Layout{
		Players:  3,
		PlayerID: playerID,
		Breaches: 4,
		Doors:    2,
		Buttons:  4,
		Health:   10,
		Time:     60,
		Seed:     7,
	})
}

func TestBreachLifecycle(t *testing.T) {
	s := newTestShip(0)
	s.CreateBreach(370, 1, 2)

	b := s.Breaches[2]
	if !b.Active || b.Player != 1 || b.Health != BreachHealth || b.Angle != 10 {
		t.Fatalf("unexpected breach %+v", b)
	}

	s.Step(2)
	if s.Health != 9.5 {
		t.Fatalf("health = %v after 2s of one breach", s.Health)
	}

	for range BreachHealth {
		s.ResolveBreach(2)
	}
	if s.Breaches[2].Active {
		t.Fatal("breach still active after full patching")
	}
	s.ResolveBreach(2)
	s.ResolveBreach(200) // out of range is ignored
}

func TestDoorsAndButtons(t *testing.T) {
	s := newTestShip(0)
	s.CreateDoor(90, 1)
	s.FlagDoor(1, 0, 1)
	if s.Doors[1].Resolved() {
		t.Fatal("one player resolved a door")
	}
	s.FlagDoor(1, 2, 1)
	if !s.Doors[1].Resolved() {
		t.Fatal("two players did not resolve the door")
	}
	s.FlagDoor(1, 0, 0)
	if s.Doors[1].PlayersOn != 1<<2 {
		t.Fatalf("mask = %08b", s.Doors[1].PlayersOn)
	}

	s.CreateButton(10, 0, 190, 3)
	if s.Buttons[0].Pair != 3 || s.Buttons[3].Pair != 0 || s.Buttons[3].Angle != 190 {
		t.Fatalf("buttons not paired: %+v %+v", s.Buttons[0], s.Buttons[3])
	}
	s.FlagButton(3)
	s.ResolveButton(3)
	if !s.Buttons[0].Resolved || !s.Buttons[3].Resolved {
		t.Fatal("pair not resolved together")
	}
}

func TestChallenge(t *testing.T) {
	s := newTestShip(0)
	s.CreateBreach(100, 0, 0)
	s.CreateDoor(200, 0)

	s.CreateAllTask()
	if !s.Challenge.Active {
		t.Fatal("challenge not started")
	}
	s.FailAllTask()
	if s.Challenge.Active {
		t.Fatal("challenge still active after failing")
	}
	for i, d := range s.Donuts {
		if !s.clear(d.Angle) {
			t.Fatalf("donut %d teleported onto a hazard at %v", i, d.Angle)
		}
	}

	s.CreateAllTask()
	s.SucceedAllTask()
	if !s.StabilizerTutorial || s.Challenge.Active {
		t.Fatal("success not recorded")
	}

	s.CreateAllTask()
	s.Step(ChallengeLength + 1)
	if s.Challenge.Active {
		t.Fatal("challenge outlived its length")
	}
}

func TestLevelEnd(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*Ship)
		over  bool
		won   bool
	}{
		{"fresh", func(*Ship) {}, false, false},
		{"force win", func(s *Ship) { s.ForceWin() }, true, true},
		{"clock", func(s *Ship) { s.Step(61) }, true, true},
		{"hull", func(s *Ship) { s.Health = 0 }, true, false},
		{"timeless force win", func(s *Ship) { s.Timeless = true; s.ForceWin() }, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestShip(0)
			tt.setup(s)
			if s.LevelOver() != tt.over || s.Won() != tt.won {
				t.Fatalf("over=%v won=%v, want %v %v", s.LevelOver(), s.Won(), tt.over, tt.won)
			}
		})
	}
}

func TestMotionAndJump(t *testing.T) {
	s := newTestShip(0)
	s.SetPlayerMotion(1, 350, 20)
	s.Step(1)
	if d := s.Donuts[1]; math.Abs(float64(d.Angle-10)) > 1e-3 {
		t.Fatalf("donut did not wrap: %v", d.Angle)
	}

	s.SetPlayerMotion(1, protocol.NoValue(), 5)
	if s.Donuts[1].Velocity != 20 {
		t.Fatal("absent angle should leave the donut alone")
	}

	s.StartJump(2)
	if !s.Donuts[2].Jumping() {
		t.Fatal("jump not started")
	}
	s.Step(JumpTime + 0.1)
	if s.Donuts[2].Jumping() {
		t.Fatal("jump never landed")
	}

	s.SetPlayerActive(2, false)
	if s.Donuts[2].Active {
		t.Fatal("donut still active")
	}
	if a, _ := s.PlayerMotion(9); !protocol.IsAbsent(a) {
		t.Fatal("unknown player should have no motion")
	}
}

// TestReconcile sends the host's snapshot through the wire format and
// merges it into a client that has local progress of its own.
func TestReconcile(t *testing.T) {
	host := newTestShip(0)
	client := newTestShip(1)

	host.CreateBreach(40, 1, 0)
	host.CreateBreach(80, 2, 1)
	host.CreateDoor(120, 0)
	host.FlagDoor(0, 2, 1)
	host.CreateButton(10, 0, 190, 1)
	host.SetPlayerMotion(0, 33, -4)
	host.SetPlayerMotion(1, 300, 1)
	host.Health = 7

	// The client already knows breach 0 and has patched it once.
	client.CreateBreach(40, 1, 0)
	client.ResolveBreach(0)
	client.CreateDoor(120, 0)
	client.FlagDoor(0, 1, 1)
	client.CreateBreach(250, 0, 3) // the host closed this one
	client.SetPlayerMotion(1, 5, 2)

	data, err := protocol.EncodeStateSync(host.Snapshot(4, false))
	if err != nil {
		t.Fatal(err)
	}
	snap, err := protocol.DecodeStateSync(data)
	if err != nil {
		t.Fatal(err)
	}
	client.Reconcile(snap)

	if client.Health != 7 {
		t.Fatalf("health = %v", client.Health)
	}
	if client.Breaches[0].Health != BreachHealth-1 {
		t.Fatalf("local patch lost: %+v", client.Breaches[0])
	}
	if b := client.Breaches[1]; !b.Active || b.Player != 2 {
		t.Fatalf("new breach not adopted: %+v", b)
	}
	if client.Breaches[3].Active {
		t.Fatal("closed breach survived")
	}
	if client.Doors[0].PlayersOn != 1<<1|1<<2 {
		t.Fatalf("door mask = %08b", client.Doors[0].PlayersOn)
	}
	if !client.Buttons[1].Active || client.Buttons[1].Pair != 0 {
		t.Fatalf("button not adopted: %+v", client.Buttons[1])
	}
	if d := client.Donuts[0]; math.Abs(float64(d.Angle-33)) > 0.01 || math.Abs(float64(d.Velocity+4)) > 0.01 {
		t.Fatalf("host donut not adopted: %+v", d)
	}
	if d := client.Donuts[1]; d.Angle != 5 {
		t.Fatalf("own donut overwritten: %+v", d)
	}
}

func TestSnapshotInactiveEntities(t *testing.T) {
	s := newTestShip(0)
	snap := s.Snapshot(1, true)
	if snap.Level != 1 || !snap.Parity || len(snap.Breaches) != 4 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	for i, b := range snap.Breaches {
		if !protocol.IsAbsent(b.Angle) {
			t.Fatalf("inactive breach %d has angle %v", i, b.Angle)
		}
	}
	if s.HealthFraction() != 1 {
		t.Fatalf("health fraction = %v", s.HealthFraction())
	}
}
