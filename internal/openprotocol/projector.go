package openprotocol

import (
	"github.com/ehrlich-b/opclient/internal/openprotocol/frame"
	"github.com/ehrlich-b/opclient/internal/openprotocol/mid"
)

// handleFrameLocked routes one decoded frame to its projection function,
// resolves any outstanding command it satisfies, and always ends with a
// stateChanged event (§4.E). Caller must hold mu.
func (c *Client) handleFrameLocked(fr frame.Frame) {
	c.state.Connection.LastReceivedMID = fr.Header.MID

	switch fr.Header.MID {
	case mid.CommStartAck, mid.CommStartAckAlt:
		c.projectLinkEstablishedLocked(fr.Header)
	case mid.CommandAccepted:
		c.projectCommandAcceptedLocked(fr.Payload)
	case mid.CommandError:
		c.projectCommandErrorLocked(fr.Payload)
	case mid.JobReply:
		c.projectJobReplyLocked(fr.Payload)
	case mid.BatchReply:
		c.projectBatchReplyLocked(fr.Payload)
	case mid.BatchDecrementAck:
		c.projectBatchDecrementAckLocked(fr.Payload)
	case mid.ToolStatus:
		c.projectToolStatusLocked(fr.Payload)
	case mid.VINReply:
		c.projectVINReplyLocked(fr.Payload)
	case mid.VINRequired:
		c.projectVINRequiredLocked(fr.Payload)
	case mid.LastResult, mid.OldResult:
		c.projectResultLocked(fr.Header, fr.Payload)
	case mid.Alarm:
		c.projectAlarmLocked(fr.Payload)
	case mid.AlarmStatus:
		c.projectAlarmStatusLocked(fr.Payload)
	case mid.MultiSpindleDone:
		c.projectSpindleCountLocked(fr.Payload)
	case mid.ParamSetReply:
		c.projectParamSetReplyLocked(fr.Payload)
	default:
		c.log.Debug("openprotocol: unhandled mid", "mid", fr.Header.MID)
	}

	c.emitStateChangedLocked()
}

func (c *Client) projectLinkEstablishedLocked(h frame.Header) {
	le, err := mid.DecodeLinkEstablished(h)
	if err != nil {
		c.emitLocked(ParseError{baseEvent: newEvent("parseError"), MID: h.MID, Err: err})
		return
	}
	c.state.Protocol.Revision = le.Revision
	c.state.Connection.LinkReady = true
	c.emitLocked(LinkEstablished{baseEvent: newEvent("linkEstablished"), Revision: le.Revision})

	if err := c.sendLocked(mid.SubscribeResults, mid.EncodeSubscribeResults(), true); err != nil {
		c.log.Warn("openprotocol: auto-subscribe results failed", "err", err)
	} else {
		c.state.Protocol.Subscriptions.TighteningResults = true
	}
	if err := c.sendLocked(mid.SubscribeAlarms, mid.EncodeSubscribeAlarms(), true); err != nil {
		c.log.Warn("openprotocol: auto-subscribe alarms failed", "err", err)
	} else {
		c.state.Protocol.Subscriptions.Alarms = true
	}
}

// projectCommandAcceptedLocked handles MID 0005. It resolves the
// matching pending command (with the MID 0020 batch-reset carve-out)
// and emits commandAccepted plus commandSuccess.
func (c *Client) projectCommandAcceptedLocked(payload []byte) {
	msg, err := mid.DecodeCommandAccepted(payload)
	if err != nil {
		c.emitLocked(ParseError{baseEvent: newEvent("parseError"), MID: mid.CommandAccepted, Err: err})
		return
	}
	tc := c.tracker.firstPendingForMID(msg.AcceptedMID)
	if tc != nil {
		c.tracker.resolve(tc.id)
	}
	c.emitLocked(CommandAccepted{baseEvent: newEvent("commandAccepted"), MID: msg.AcceptedMID})
	c.emitLocked(CommandSuccess{baseEvent: newEvent("commandSuccess"), MID: msg.AcceptedMID})

	if msg.AcceptedMID == mid.ResetBatch {
		c.state.Batch.Counter = 0
		c.state.Batch.Complete = false
		c.state.Batch.PendingReset = false
		c.emitLocked(BatchResetConfirmed{baseEvent: newEvent("batchResetConfirmed")})
	}
}

func (c *Client) projectCommandErrorLocked(payload []byte) {
	msg, err := mid.DecodeCommandError(payload)
	if err != nil {
		c.emitLocked(ParseError{baseEvent: newEvent("parseError"), MID: mid.CommandError, Err: err})
		return
	}
	tc := c.tracker.firstPendingForMID(msg.FailedMID)
	if tc != nil {
		c.tracker.resolve(tc.id)
	}
	c.emitLocked(CommandError{baseEvent: newEvent("commandError"), FailedMID: msg.FailedMID, ErrorCode: msg.ErrorCode, Message: msg.Message})
	c.emitLocked(CommandFailed{baseEvent: newEvent("commandFailed"), MID: msg.FailedMID, ErrorCode: msg.ErrorCode, Message: msg.Message})

	if msg.FailedMID == mid.ResetBatch {
		c.state.Batch.PendingReset = false
		c.emitLocked(BatchResetFailed{baseEvent: newEvent("batchResetFailed"), ErrorCode: msg.ErrorCode, Message: msg.Message})
	}
}

func (c *Client) projectJobReplyLocked(payload []byte) {
	msg, err := mid.DecodeJobReply(payload)
	if err != nil {
		c.emitLocked(ParseError{baseEvent: newEvent("parseError"), MID: mid.JobReply, Err: err})
		return
	}
	c.state.Job.JobID = msg.JobID
	c.state.Job.Active = true
	c.state.Job.Locked = true
	c.state.Product.VINLocked = false
	c.emitLocked(JobSelected{baseEvent: newEvent("jobSelected"), JobID: msg.JobID})
}

func (c *Client) projectParamSetReplyLocked(payload []byte) {
	msg, err := mid.DecodeParamSetReply(payload)
	if err != nil {
		c.emitLocked(ParseError{baseEvent: newEvent("parseError"), MID: mid.ParamSetReply, Err: err})
		return
	}
	c.state.Job.ParamSetID = msg.ParamSetID
	c.emitLocked(ParameterSetSelected{baseEvent: newEvent("parameterSetSelected"), ParamSetID: msg.ParamSetID})
}

func (c *Client) projectBatchReplyLocked(payload []byte) {
	msg, err := mid.DecodeBatchReply(payload)
	if err != nil {
		c.emitLocked(ParseError{baseEvent: newEvent("parseError"), MID: mid.BatchReply, Err: err})
		return
	}
	c.state.Batch = BatchState{
		BatchID:  msg.BatchID,
		Size:     msg.Size,
		Counter:  msg.Counter,
		Active:   true,
		Complete: false,
		Locked:   true,
	}
	c.state.Product.VINLocked = false
	c.emitLocked(BatchStarted{baseEvent: newEvent("batchStarted"), BatchID: msg.BatchID, Size: msg.Size})
}

func (c *Client) projectBatchDecrementAckLocked(payload []byte) {
	msg, err := mid.DecodeBatchDecrementAck(payload)
	if err != nil {
		c.emitLocked(ParseError{baseEvent: newEvent("parseError"), MID: mid.BatchDecrementAck, Err: err})
		return
	}
	c.state.Batch.Counter = msg.Counter
	c.state.Batch.Complete = c.state.Batch.Size > 0 && msg.Counter >= c.state.Batch.Size
	c.emitLocked(BatchDecremented{baseEvent: newEvent("batchDecremented"), Counter: msg.Counter})
}

func (c *Client) projectToolStatusLocked(payload []byte) {
	msg, err := mid.DecodeToolStatus(payload)
	if err != nil {
		c.emitLocked(ParseError{baseEvent: newEvent("parseError"), MID: mid.ToolStatus, Err: err})
		return
	}
	wasRunning := c.state.Tool.Running
	c.state.Controller.Ready = msg.ControllerReady
	c.state.Tool.Enabled = msg.ToolEnabled
	c.state.Tool.Running = msg.ToolRunning
	c.state.Controller.ErrorActive = msg.AlarmActive

	if msg.ToolRunning && !wasRunning && !c.state.Tightening.InProgress {
		c.startCycleLocked()
	}
}

func (c *Client) projectVINReplyLocked(payload []byte) {
	msg, err := mid.DecodeVINReply(payload)
	if err != nil {
		c.emitLocked(ParseError{baseEvent: newEvent("parseError"), MID: mid.VINReply, Err: err})
		return
	}
	c.state.Product.VIN = msg.VIN
	c.state.Product.VINValid = msg.VIN != ""
}

func (c *Client) projectVINRequiredLocked(payload []byte) {
	msg, err := mid.DecodeVINRequired(payload)
	if err != nil {
		c.emitLocked(ParseError{baseEvent: newEvent("parseError"), MID: mid.VINRequired, Err: err})
		return
	}
	c.state.Product.VINRequired = msg.Required
	c.emitLocked(VINRequired{baseEvent: newEvent("vinRequired"), Required: msg.Required})
}

func (c *Client) projectAlarmLocked(payload []byte) {
	msg, err := mid.DecodeAlarm(payload)
	if err != nil {
		c.emitLocked(ParseError{baseEvent: newEvent("parseError"), MID: mid.Alarm, Err: err})
		return
	}
	c.state.Controller.Alarms = append(c.state.Controller.Alarms, AlarmRecord{
		Code:      msg.Code,
		Text:      msg.Text,
		Timestamp: c.clock.Now(),
	})
	c.state.Controller.ErrorActive = true
	c.emitLocked(Alarm{baseEvent: newEvent("alarm"), Code: msg.Code, Text: msg.Text})
}

func (c *Client) projectAlarmStatusLocked(payload []byte) {
	msg, err := mid.DecodeAlarmStatus(payload)
	if err != nil {
		c.emitLocked(ParseError{baseEvent: newEvent("parseError"), MID: mid.AlarmStatus, Err: err})
		return
	}
	if !msg.AlarmStatus {
		c.state.Controller.Alarms = nil
		c.state.Controller.ErrorActive = false
	}
	c.emitLocked(AlarmStatus{baseEvent: newEvent("alarmStatus"), Active: msg.AlarmStatus})
}

func (c *Client) projectSpindleCountLocked(payload []byte) {
	msg, err := mid.DecodeMultiSpindleDone(payload)
	if err != nil {
		c.emitLocked(ParseError{baseEvent: newEvent("parseError"), MID: mid.MultiSpindleDone, Err: err})
		return
	}
	if c.state.Tool.SpindleCountSource.hasAuthority() || msg.SpindleCount <= 0 {
		return
	}
	c.state.Tool.SpindleCount = msg.SpindleCount
	c.state.Tool.SpindleCountSource = SpindleCountMID101
	c.emitLocked(SpindleCountUpdated{baseEvent: newEvent("spindleCountUpdated"), Count: msg.SpindleCount, Source: SpindleCountMID101})
}

// projectResultLocked handles MID 0061/0065. A MID 0062 ACK is sent
// unconditionally, even if decode or aggregation fails (§4.E, §4.F).
func (c *Client) projectResultLocked(h frame.Header, payload []byte) {
	defer func() {
		if err := c.sendLocked(mid.ResultAck, mid.EncodeResultAck(), false); err != nil {
			c.log.Warn("openprotocol: result ack failed", "err", err)
		}
	}()

	result, err := mid.DecodeResult(c.state.Protocol.Revision, h, payload)
	if err != nil {
		c.state.ParseErrors++
		c.emitLocked(ParseError{baseEvent: newEvent("parseError"), MID: h.MID, Err: err})
		return
	}
	c.aggregateResultLocked(result)
}
