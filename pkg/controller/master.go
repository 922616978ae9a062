package controller

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"ds485d/pkg/frame"
)

func randDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}

// runMaster performs one token round: solicit if due, send queued frames,
// then circulate the token through the ring.
func (c *Controller) runMaster(ctx context.Context) error {
	if time.Since(c.lastSolicit) >= c.cfg.SolicitInterval {
		c.lastSolicit = time.Now()
		solicit := frame.NewCommand(0, true, frame.CommandSolicitSuccessorRequest, nil)
		if err := c.send(solicit); err != nil {
			return err
		}
		c.deadline = time.Now().Add(c.cfg.SolicitWindow)
		c.setState(BroadcastingStationID)
		return nil
	}

	c.tokenCount.Add(1)
	c.tokenSig.broadcast()
	if err := c.drainQueue(ctx); err != nil {
		return err
	}

	if len(c.ring) < 2 {
		_, err := c.awaitOr(ctx, c.cfg.MasterIdle, nil, c.kick)
		return err
	}
	ok, err := c.circulate(ctx)
	if err != nil || ok {
		return err
	}
	return c.rebuildRing(ctx)
}

// circulate passes the token to the first slave and waits for it to come
// back, resending once on loss.
func (c *Controller) circulate(ctx context.Context) (bool, error) {
	isReturn := func(f *frame.Frame) bool {
		return f.IsToken() && f.Header.Destination == frame.MasterStation
	}
	for attempt := range 2 {
		if attempt > 0 {
			c.log.Debug("token lost, resending", "to", c.ring[1])
		}
		if err := c.passToken(c.ring[1]); err != nil {
			return false, err
		}
		r, err := c.await(ctx, c.cfg.TokenReturnTimeout*time.Duration(len(c.ring)), isReturn)
		if err != nil {
			return false, err
		}
		if r != nil {
			if c.State() != Master {
				return true, nil
			}
			_, err := c.awaitOr(ctx, c.cfg.MasterIdle, nil, c.kick)
			return true, err
		}
		if c.State() != Master {
			return true, nil
		}
	}
	return false, nil
}

// rebuildRing probes every known slave and relinks the ones that answer.
func (c *Controller) rebuildRing(ctx context.Context) error {
	c.log.Warn("token did not return, probing ring", "ring", fmt.Sprint(c.ring))
	alive := []frame.StationID{frame.MasterStation}
	for _, id := range c.ring[1:] {
		ok, err := c.probe(ctx, id)
		if err != nil {
			return err
		}
		if ok {
			alive = append(alive, id)
		} else {
			c.log.Info("station left the ring", "station", id)
		}
	}
	for i := 1; i < len(alive); i++ {
		next := frame.MasterStation
		if i+1 < len(alive) {
			next = alive[i+1]
		}
		if _, err := c.setSuccessorOf(ctx, alive[i], next); err != nil {
			return err
		}
	}
	c.ring = alive
	return nil
}

// probe reports whether a station answers a GetAddressRequest.
func (c *Controller) probe(ctx context.Context, id frame.StationID) (bool, error) {
	if err := c.sendCommand(id, frame.CommandGetAddressRequest); err != nil {
		return false, err
	}
	r, err := c.await(ctx, c.cfg.ResponseTimeout, func(f *frame.Frame) bool {
		return !f.IsToken() && f.Command == frame.CommandGetAddressResponse && f.Header.Source == id
	})
	return r != nil, err
}

func (c *Controller) setSuccessorOf(ctx context.Context, id, next frame.StationID) (bool, error) {
	if err := c.sendCommand(id, frame.CommandSetSuccessorAddressRequest, byte(next)); err != nil {
		return false, err
	}
	r, err := c.await(ctx, c.cfg.ResponseTimeout, func(f *frame.Frame) bool {
		return !f.IsToken() && f.Command == frame.CommandSetSuccessorAddressResponse && f.Header.Source == id
	})
	return r != nil, err
}

// runBroadcasting listens for joiners after a solicit.
func (c *Controller) runBroadcasting(ctx context.Context) error {
	r, err := c.await(ctx, time.Until(c.deadline), func(f *frame.Frame) bool {
		return !f.IsToken() && f.Command == frame.CommandSolicitSuccessorResponse
	})
	if err != nil {
		return err
	}
	if c.State() != BroadcastingStationID {
		return nil
	}
	if r != nil {
		if err := c.admit(ctx, r.Frame); err != nil {
			return err
		}
	}
	if c.State() == BroadcastingStationID {
		c.setState(Master)
	}
	return nil
}

// freeAddress returns the lowest address that is neither in the ring nor
// answers a probe.
func (c *Controller) freeAddress(ctx context.Context) (frame.StationID, error) {
	for id := frame.MasterStation + 1; id < frame.JoiningStation; id++ {
		if slices.Contains(c.ring, id) {
			continue
		}
		taken, err := c.probe(ctx, id)
		if err != nil {
			return frame.Unassigned, err
		}
		if !taken {
			return id, nil
		}
		c.log.Warn("address in use outside the ring", "station", id)
	}
	return frame.Unassigned, nil
}

// admit assigns an address to the node that answered a solicit and links
// it in as the last station before the master.
func (c *Controller) admit(ctx context.Context, resp *frame.Frame) error {
	dsid, _ := frame.DSIDFromBytes(resp.Payload)
	addr, err := c.freeAddress(ctx)
	if err != nil {
		return err
	}
	if addr == frame.Unassigned {
		c.log.Warn("ring full, ignoring joiner", "dsid", dsid)
		return nil
	}

	if err := c.sendCommand(frame.JoiningStation, frame.CommandSetDeviceAddressRequest, byte(addr)); err != nil {
		return err
	}
	r, err := c.await(ctx, c.cfg.ResponseTimeout, func(f *frame.Frame) bool {
		return !f.IsToken() && f.Command == frame.CommandSetDeviceAddressResponse && f.Header.Source == addr
	})
	if err != nil {
		return err
	}
	if r == nil {
		c.log.Warn("joiner did not take its address", "dsid", dsid, "station", addr)
		return nil
	}

	ok, err := c.setSuccessorOf(ctx, addr, frame.MasterStation)
	if err != nil {
		return err
	}
	if !ok {
		c.log.Warn("joiner did not take its successor", "dsid", dsid, "station", addr)
		return nil
	}
	if tail := c.ring[len(c.ring)-1]; tail != frame.MasterStation {
		if ok, err := c.setSuccessorOf(ctx, tail, addr); err != nil {
			return err
		} else if !ok {
			c.log.Warn("ring tail did not relink", "station", tail)
		}
	}
	c.ring = append(c.ring, addr)
	c.log.Info("station joined", "dsid", dsid, "station", addr, "ring", fmt.Sprint(c.ring))
	return nil
}
