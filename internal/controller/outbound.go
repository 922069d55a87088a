package controller

import (
	"github.com/1ureka/sweetspace/internal/protocol"
	"github.com/1ureka/sweetspace/internal/util"
)

// send encodes msg and hands it to the session. Gameplay only flows while
// the game runs; anything else is logged and dropped.
func (c *Controller) send(msg *protocol.Message, reliable bool) {
	if c.status != GameRunning || c.sess == nil {
		util.LogDebug("dropping outbound %s while %s", msg.Type, c.status)
		return
	}
	if err := c.sess.Send(protocol.Encode(msg), reliable); err != nil {
		util.LogWarning("send %s: %v", msg.Type, err)
	}
}

// sendRaw sends a control payload reliably.
func (c *Controller) sendRaw(data []byte) {
	if c.status != GameRunning || c.sess == nil {
		util.LogDebug("dropping control payload while %s", c.status)
		return
	}
	if err := c.sess.Send(data, true); err != nil {
		util.LogWarning("send %s: %v", protocol.MessageType(data[0]), err)
	}
}

// CreateBreach announces breach id at angle, owned by player.
func (c *Controller) CreateBreach(angle float32, player, id uint8) {
	msg := protocol.NewMessage(protocol.BreachCreate)
	msg.Angle, msg.ID, msg.Data1 = angle, id, player
	c.send(msg, true)
}

func (c *Controller) ResolveBreach(id uint8) {
	msg := protocol.NewMessage(protocol.BreachShrink)
	msg.ID = id
	c.send(msg, true)
}

// CreateDualTask announces door id at angle.
func (c *Controller) CreateDualTask(angle float32, id uint8) {
	msg := protocol.NewMessage(protocol.DualCreate)
	msg.Angle, msg.ID = angle, id
	c.send(msg, true)
}

// FlagDualTask reports player stepping on (flag 1) or off (flag 0) door id.
func (c *Controller) FlagDualTask(id, player, flag uint8) {
	msg := protocol.NewMessage(protocol.DualResolve)
	msg.ID, msg.Data1, msg.Data2 = id, player, flag
	c.send(msg, true)
}

// CreateButtonTask announces two paired buttons.
func (c *Controller) CreateButtonTask(angle1 float32, id1 uint8, angle2 float32, id2 uint8) {
	msg := protocol.NewMessage(protocol.ButtonCreate)
	msg.Angle, msg.ID, msg.Data1, msg.Data3 = angle1, id1, id2, angle2
	c.send(msg, true)
}

func (c *Controller) FlagButton(id uint8) {
	msg := protocol.NewMessage(protocol.ButtonFlag)
	msg.ID = id
	c.send(msg, true)
}

func (c *Controller) ResolveButton(id uint8) {
	msg := protocol.NewMessage(protocol.ButtonResolve)
	msg.ID = id
	c.send(msg, true)
}

// CreateAllTask starts the stabilizer challenge on player's screen.
func (c *Controller) CreateAllTask(player uint8) {
	msg := protocol.NewMessage(protocol.AllCreate)
	msg.ID = player
	c.send(msg, true)
}

func (c *Controller) FailAllTask()    { c.send(protocol.NewMessage(protocol.AllFail), true) }
func (c *Controller) SucceedAllTask() { c.send(protocol.NewMessage(protocol.AllSucceed), true) }
func (c *Controller) ForceWinLevel()  { c.send(protocol.NewMessage(protocol.ForceWin), true) }

func (c *Controller) Jump(player uint8) {
	msg := protocol.NewMessage(protocol.Jump)
	msg.ID = player
	c.send(msg, true)
}
