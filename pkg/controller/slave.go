package controller

import (
	"context"
	"math/rand/v2"
	"time"

	"ds485d/pkg/frame"
)

// runWaitingToJoin lets a random number of solicits pass, then answers
// one with our DSID from the joining address.
func (c *Controller) runWaitingToJoin(ctx context.Context) error {
	r, err := c.await(ctx, time.Until(c.deadline), func(f *frame.Frame) bool {
		if f.IsToken() || !f.Header.Broadcast {
			return false
		}
		if f.Command == frame.CommandSolicitSuccessorRequest {
			return !c.cfg.DenyShortJoin
		}
		return f.Command == frame.CommandSolicitSuccessorRequestLong
	})
	if err != nil {
		return err
	}
	if r == nil {
		c.fail("no solicit from a master")
		return nil
	}
	c.deadline = time.Now().Add(c.cfg.JoinTimeout)

	if c.joinSkip < 0 {
		if r.Frame.Command == frame.CommandSolicitSuccessorRequestLong {
			c.joinSkip = rand.IntN(c.cfg.JoinSkipMin + 1)
		} else {
			c.joinSkip = c.cfg.JoinSkipMin + rand.IntN(c.cfg.JoinSkipMax-c.cfg.JoinSkipMin+1)
		}
		c.log.Debug("waiting for solicits", "skip", c.joinSkip)
	}
	if c.joinSkip > 0 {
		c.joinSkip--
		return nil
	}

	c.joinSkip = -1
	c.setStation(frame.JoiningStation)
	resp := frame.NewCommand(frame.MasterStation, false, frame.CommandSolicitSuccessorResponse,
		c.cfg.DSID.AppendBinary(nil))
	if err := c.send(resp); err != nil {
		return err
	}
	c.successor = frame.Unassigned
	c.deadline = time.Now().Add(c.cfg.JoinResponseTimeout)
	c.setState(SlaveJoining)
	return nil
}

func (c *Controller) handleSetAddress(id frame.StationID) error {
	if !id.Valid() || id == frame.JoiningStation {
		c.log.Warn("invalid address assignment", "station", id)
		return nil
	}
	c.setStation(id)
	c.log.Info("got address", "station", id)
	return c.sendCommand(frame.MasterStation, frame.CommandSetDeviceAddressResponse)
}

func (c *Controller) handleSetSuccessor(id frame.StationID) error {
	if !id.Valid() {
		c.log.Warn("invalid successor", "station", id)
		return nil
	}
	c.successor = id
	c.log.Debug("successor set", "station", id)
	return c.sendCommand(frame.MasterStation, frame.CommandSetSuccessorAddressResponse)
}

// runJoining waits for the master to assign our address and successor.
// Both are handled by observe.
func (c *Controller) runJoining(ctx context.Context) error {
	if _, err := c.await(ctx, min(c.cfg.ReadPoll, time.Until(c.deadline)), nil); err != nil {
		return err
	}
	if c.State() != SlaveJoining {
		return nil
	}
	if c.StationID() != frame.JoiningStation && c.successor != frame.Unassigned {
		c.log.Info("linked into ring", "station", c.StationID(), "successor", c.successor)
		c.deadline = time.Now().Add(c.cfg.FirstTokenTimeout)
		c.setState(SlaveWaitingForFirstToken)
		return nil
	}
	if !time.Now().Before(c.deadline) {
		c.fail("no address assignment after solicit response")
	}
	return nil
}

func (c *Controller) isOurToken(f *frame.Frame) bool {
	return f.IsToken() && f.Header.Destination == c.StationID()
}

// runWaitingForFirstToken passes the first token straight on; the node
// starts counting tokens from the next one.
func (c *Controller) runWaitingForFirstToken(ctx context.Context) error {
	r, err := c.await(ctx, min(c.cfg.ReadPoll, time.Until(c.deadline)), c.isOurToken)
	if err != nil || c.State() != SlaveWaitingForFirstToken {
		return err
	}
	if r == nil {
		if !time.Now().Before(c.deadline) {
			c.fail("first token never arrived")
		}
		return nil
	}
	if err := c.passToken(c.successor); err != nil {
		return err
	}
	c.tokenCount.Store(0)
	c.deadline = time.Now().Add(c.cfg.TokenTimeout)
	c.setState(Slave)
	return nil
}

// runSlave handles one token: count it, send queued frames once warmed up
// and pass it on.
func (c *Controller) runSlave(ctx context.Context) error {
	r, err := c.await(ctx, time.Until(c.deadline), c.isOurToken)
	if err != nil || c.State() != Slave {
		return err
	}
	if r == nil {
		c.fail("token timeout")
		return nil
	}
	n := c.tokenCount.Add(1)
	c.tokenSig.broadcast()
	if n >= int64(c.cfg.WarmupTokens) {
		if err := c.drainQueue(ctx); err != nil {
			return err
		}
	}
	c.deadline = time.Now().Add(c.cfg.TokenTimeout)
	return c.passToken(c.successor)
}
