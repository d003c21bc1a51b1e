package openprotocol

import (
	"github.com/ehrlich-b/opclient/internal/openprotocol/mid"
)

// startCycleLocked begins a multi-spindle tightening cycle, triggered by
// MID 0041 reporting tool_running rising (§4.F). Caller must hold mu.
func (c *Client) startCycleLocked() {
	now := c.clock.Now()
	c.state.Tightening = TighteningState{
		InProgress:       true,
		CycleStartTS:     now,
		PendingSpindles:  make(map[int]mid.SpindleResult),
		WatchdogDeadline: now.Add(c.cfg.WatchdogTimeout),
	}
	c.emitLocked(TighteningCycleStarted{baseEvent: newEvent("tighteningCycleStarted"), Timestamp: now})
}

// aggregateResultLocked folds one spindle result into the in-progress
// cycle, following the five-step rule in §4.F. Caller must hold mu.
func (c *Client) aggregateResultLocked(result mid.SpindleResult) {
	if !c.state.Product.VINLocked && result.VIN != "" {
		c.state.Product.VIN = result.VIN
		c.state.Product.VINLocked = true
		c.emitLocked(VINLocked{baseEvent: newEvent("vinLocked"), VIN: result.VIN})
	}

	if c.state.Tool.SpindleCountSource == SpindleCountDefault && result.Spindle > c.state.Tool.SpindleCount {
		c.state.Tool.SpindleCount = result.Spindle
		c.state.Tool.SpindleCountSource = SpindleCountMID061
		c.emitLocked(SpindleCountUpdated{baseEvent: newEvent("spindleCountUpdated"), Count: result.Spindle, Source: SpindleCountMID061})
	}

	c.emitLocked(SpindleResult{baseEvent: newEvent("spindleResult"), Result: result})

	t := &c.state.Tightening
	t.PendingSpindles[result.Spindle] = result

	if len(t.PendingSpindles) < c.state.Tool.SpindleCount {
		return
	}
	c.completeCycleLocked()
}

// completeCycleLocked finalizes a cycle once every spindle has reported
// (§4.F step 6). Caller must hold mu.
func (c *Client) completeCycleLocked() {
	t := c.state.Tightening
	duration := c.clock.Now().Sub(t.CycleStartTS)

	results := make([]mid.SpindleResult, 0, len(t.PendingSpindles))
	overallOK := true
	for i := 1; i <= c.state.Tool.SpindleCount; i++ {
		r, ok := t.PendingSpindles[i]
		if !ok {
			continue
		}
		results = append(results, r)
		if !r.OK {
			overallOK = false
		}
	}

	c.resetTighteningLocked()

	if c.state.Batch.Active && !c.state.Batch.Complete {
		c.state.Batch.Counter++
		c.emitLocked(BatchProgress{baseEvent: newEvent("batchProgress"), Counter: c.state.Batch.Counter, Size: c.state.Batch.Size})
		if c.state.Batch.Counter >= c.state.Batch.Size {
			c.state.Batch.Complete = true
			c.emitLocked(BatchCompleted{baseEvent: newEvent("batchCompleted"), BatchID: c.state.Batch.BatchID})
		}
	}

	c.emitLocked(TighteningCycleCompleted{
		baseEvent: newEvent("tighteningCycleCompleted"),
		Results:   results,
		OverallOK: overallOK,
		Duration:  duration,
	})
}
