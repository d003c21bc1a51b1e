package openprotocol

import (
	"github.com/ehrlich-b/opclient/internal/openprotocol/frame"
)

// sendLocked encodes and writes one frame for mid/payload. expectAck
// controls the header's NoAck bit; it does not by itself register the
// command with the tracker — callers that need a resolvable command
// use sendCommandLocked instead. Caller must hold mu.
func (c *Client) sendLocked(mid string, payload []byte, expectAck bool) error {
	if c.conn == nil {
		return &commandError{MID: mid, Message: "not connected"}
	}
	buf, err := frame.Encode(mid, payload, expectAck)
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(buf); err != nil {
		return err
	}
	c.lastActivity = c.clock.Now()
	return nil
}

// sendCommandLocked registers mid with the tracker (enforcing the
// one-per-MID rule), writes the frame, and returns the assigned command
// ID. On any failure the tracker registration is rolled back so a later
// retry isn't blocked by a phantom pending entry. Caller must hold mu.
func (c *Client) sendCommandLocked(mid string, payload []byte) (int64, error) {
	id, err := c.tracker.beginSend(mid)
	if err != nil {
		return 0, err
	}
	if err := c.sendLocked(mid, payload, true); err != nil {
		c.tracker.resolve(id)
		return 0, err
	}
	return id, nil
}
