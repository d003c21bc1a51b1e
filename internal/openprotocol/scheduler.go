package openprotocol

import (
	"time"

	"github.com/ehrlich-b/opclient/internal/openprotocol/mid"
)

// armTickLocked starts the recurring scheduler tick. A single timer at
// cfg.HeartbeatTick interval drives three independent checks each fire
// rather than one timer apiece: heartbeat idle detection, command
// timeout sweep, and the cycle watchdog (§4.C, §4.D, §4.F). This trades
// sub-tick precision on the watchdog/timeout deadlines (up to one tick
// of lateness) for a single, easily fakeable clock dependency.
func (c *Client) armTickLocked() {
	c.cancelTickLocked()
	c.tickTimer = c.clock.AfterFunc(c.cfg.HeartbeatTick, c.tick)
}

func (c *Client) cancelTickLocked() {
	if c.tickTimer != nil {
		c.tickTimer.Stop()
		c.tickTimer = nil
	}
}

func (c *Client) tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Connection.Connected || c.conn == nil {
		return
	}

	now := c.clock.Now()
	c.heartbeatSweepLocked(now)
	c.commandTimeoutSweepLocked(now)
	c.watchdogSweepLocked(now)

	c.tickTimer = c.clock.AfterFunc(c.cfg.HeartbeatTick, c.tick)
}

// heartbeatSweepLocked sends MID 9999 when no traffic has crossed the
// wire for cfg.HeartbeatIdle (§4.D).
func (c *Client) heartbeatSweepLocked(now time.Time) {
	if now.Sub(c.lastActivity) < c.cfg.HeartbeatIdle {
		return
	}
	if err := c.sendLocked(mid.Heartbeat, mid.EncodeHeartbeat(), false); err != nil {
		c.log.Warn("openprotocol: heartbeat send failed", "err", err)
	}
}

// commandTimeoutSweepLocked fails any command that has been pending
// longer than cfg.CommandTimeout, emitting CommandTimeout for each
// (§4.C).
func (c *Client) commandTimeoutSweepLocked(now time.Time) {
	for _, tc := range c.tracker.expired(now) {
		c.tracker.resolve(tc.id)
		c.emitLocked(CommandTimeout{baseEvent: newEvent("commandTimeout"), MID: tc.mid, CommandID: tc.id, CorrelationID: tc.correlationID})
	}
}

// watchdogSweepLocked declares a tightening cycle incomplete when it has
// been open longer than cfg.WatchdogTimeout without collecting a result
// from every spindle (§4.F).
func (c *Client) watchdogSweepLocked(now time.Time) {
	t := &c.state.Tightening
	if !t.InProgress || t.WatchdogDeadline.IsZero() || now.Before(t.WatchdogDeadline) {
		return
	}
	results := make([]mid.SpindleResult, 0, len(t.PendingSpindles))
	for i := 1; i <= c.state.Tool.SpindleCount; i++ {
		if r, ok := t.PendingSpindles[i]; ok {
			results = append(results, r)
		}
	}
	c.emitLocked(TighteningIncomplete{
		baseEvent: newEvent("tighteningIncomplete"),
		Expected:  c.state.Tool.SpindleCount,
		Received:  len(t.PendingSpindles),
		Results:   results,
	})
	c.resetTighteningLocked()
	c.emitStateChangedLocked()
}
