package openprotocol

import (
	"fmt"

	"github.com/ehrlich-b/opclient/internal/openprotocol/mid"
)

// SelectJob sends MID 0034 selecting job id (0..9999).
func (c *Client) SelectJob(id int) error {
	payload, err := mid.EncodeSelectJob(id)
	if err != nil {
		return err
	}
	return c.runCommand(mid.SelectJob, payload)
}

// DownloadVIN sends MID 0050 with vin (max 25 characters).
func (c *Client) DownloadVIN(vin string) error {
	payload, err := mid.EncodeDownloadVIN(vin)
	if err != nil {
		return err
	}
	return c.runCommand(mid.DownloadVIN, payload)
}

// SelectParameterSet sends MID 0018 selecting parameter set id (0..999).
func (c *Client) SelectParameterSet(id int) error {
	payload, err := mid.EncodeSelectParamSet(id)
	if err != nil {
		return err
	}
	return c.runCommand(mid.SelectParamSet, payload)
}

// EnableTool sends MID 0042.
func (c *Client) EnableTool() error {
	return c.runCommand(mid.EnableTool, mid.EncodeEnableTool())
}

// DisableTool sends MID 0045.
func (c *Client) DisableTool() error {
	return c.runCommand(mid.DisableTool, mid.EncodeDisableTool())
}

// StartTightening sends MID 0043, gated by the full 8-rule interlock
// check (§4.F).
func (c *Client) StartTightening() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkInterlockLocked(true); err != nil {
		return err
	}
	_, err := c.sendCommandLocked(mid.StartTool, mid.EncodeStartTool())
	return err
}

// ResetBatch sends MID 0020 and marks the reset pending until the
// controller's MID 0005/0004 resolves it (§4.E).
func (c *Client) ResetBatch() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkInterlockLocked(false); err != nil {
		return err
	}
	if _, err := c.sendCommandLocked(mid.ResetBatch, mid.EncodeResetBatch()); err != nil {
		return err
	}
	c.state.Batch.PendingReset = true
	return nil
}

// DecrementBatch sends MID 0021.
func (c *Client) DecrementBatch() error {
	return c.runCommand(mid.DecrementBatch, mid.EncodeDecrementBatch())
}

// SubscribeTighteningResults sends MID 0060.
func (c *Client) SubscribeTighteningResults() error {
	return c.runCommandWithEffect(mid.SubscribeResults, mid.EncodeSubscribeResults(), func() {
		c.state.Protocol.Subscriptions.TighteningResults = true
	})
}

// UnsubscribeTighteningResults sends MID 0063.
func (c *Client) UnsubscribeTighteningResults() error {
	return c.runCommandWithEffect(mid.UnsubscribeResults, mid.EncodeUnsubscribeResults(), func() {
		c.state.Protocol.Subscriptions.TighteningResults = false
	})
}

// SubscribeAlarms sends MID 0070 (outbound alias).
func (c *Client) SubscribeAlarms() error {
	return c.runCommandWithEffect(mid.SubscribeAlarms, mid.EncodeSubscribeAlarms(), func() {
		c.state.Protocol.Subscriptions.Alarms = true
	})
}

// UnsubscribeAlarms sends MID 0073.
func (c *Client) UnsubscribeAlarms() error {
	return c.runCommandWithEffect(mid.UnsubscribeAlarms, mid.EncodeUnsubscribeAlarms(), func() {
		c.state.Protocol.Subscriptions.Alarms = false
	})
}

// AcknowledgeAlarm sends MID 0078.
func (c *Client) AcknowledgeAlarm() error {
	return c.runCommand(mid.AcknowledgeAlarm, mid.EncodeAcknowledgeAlarm())
}

// SetSpindleCount manually sets the spindle count (1..99). A manual
// setting takes sticky authority over MID 0101/0061-reported counts
// (§3's spindle_count_source invariant).
func (c *Client) SetSpindleCount(n int) error {
	if n < 1 || n > 99 {
		return fmt.Errorf("openprotocol: spindle count %d out of range [1,99]", n)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Tool.SpindleCount = n
	c.state.Tool.SpindleCountSource = SpindleCountManual
	c.emitLocked(SpindleCountUpdated{baseEvent: newEvent("spindleCountUpdated"), Count: n, Source: SpindleCountManual})
	c.emitStateChangedLocked()
	return nil
}

// GetSpindleCount returns the current spindle count.
func (c *Client) GetSpindleCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Tool.SpindleCount
}

// runCommand gates an operation with the base (rules 1-2) interlock
// check, sends it as a tracked command, and returns any error.
func (c *Client) runCommand(midID string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkInterlockLocked(false); err != nil {
		return err
	}
	_, err := c.sendCommandLocked(midID, payload)
	return err
}

// runCommandWithEffect is runCommand plus a local state mutation applied
// only once the send succeeds.
func (c *Client) runCommandWithEffect(midID string, payload []byte, effect func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkInterlockLocked(false); err != nil {
		return err
	}
	if _, err := c.sendCommandLocked(midID, payload); err != nil {
		return err
	}
	effect()
	return nil
}
