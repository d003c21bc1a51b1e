package mid

import (
	"fmt"
	"strconv"

	"github.com/ehrlich-b/opclient/internal/openprotocol/frame"
)

// LinkEstablished carries the revision declared by the controller in its
// MID 0002/0003 reply.
type LinkEstablished struct {
	Revision int
}

// DecodeLinkEstablished parses a comm-start-ACK payload. The revision is
// carried in the frame header, not the payload, so the header is passed
// in directly.
func DecodeLinkEstablished(h frame.Header) (LinkEstablished, error) {
	rev, err := strconv.Atoi(h.Revision)
	if err != nil || rev < 1 {
		rev = 1
	}
	return LinkEstablished{Revision: rev}, nil
}

// CommandErrorMsg is the payload of MID 0004.
type CommandErrorMsg struct {
	FailedMID string
	ErrorCode string
	Message   string
}

func DecodeCommandError(payload []byte) (CommandErrorMsg, error) {
	if err := need(payload, 4, CommandError, ""); err != nil {
		return CommandErrorMsg{}, err
	}
	return CommandErrorMsg{
		FailedMID: slice(payload, 0, 4),
		ErrorCode: trimmed(payload, 4, 8),
		Message:   trimmed(payload, 8, len(payload)),
	}, nil
}

// CommandAcceptedMsg is the payload of MID 0005.
type CommandAcceptedMsg struct {
	AcceptedMID string
}

func DecodeCommandAccepted(payload []byte) (CommandAcceptedMsg, error) {
	if err := need(payload, 4, CommandAccepted, ""); err != nil {
		return CommandAcceptedMsg{}, err
	}
	return CommandAcceptedMsg{AcceptedMID: slice(payload, 0, 4)}, nil
}

// ParamSetReplyMsg is the payload of MID 0011.
type ParamSetReplyMsg struct {
	ParamSetID string
}

func DecodeParamSetReply(payload []byte) (ParamSetReplyMsg, error) {
	if err := need(payload, 4, ParamSetReply, ""); err != nil {
		return ParamSetReplyMsg{}, err
	}
	return ParamSetReplyMsg{ParamSetID: trimmed(payload, 0, 4)}, nil
}

// BatchReplyMsg is the payload of MID 0031.
type BatchReplyMsg struct {
	BatchID string
	Size    int
	Counter int
}

func DecodeBatchReply(payload []byte) (BatchReplyMsg, error) {
	if err := need(payload, 12, BatchReply, ""); err != nil {
		return BatchReplyMsg{}, err
	}
	return BatchReplyMsg{
		BatchID: trimmed(payload, 0, 4),
		Size:    atoiLenient(slice(payload, 4, 8)),
		Counter: atoiLenient(slice(payload, 8, 12)),
	}, nil
}

// BatchDecrementAckMsg is the payload of MID 0021, the controller's
// confirmation that the batch counter was decremented.
type BatchDecrementAckMsg struct {
	Counter int
}

func DecodeBatchDecrementAck(payload []byte) (BatchDecrementAckMsg, error) {
	if err := need(payload, 4, BatchDecrementAck, ""); err != nil {
		return BatchDecrementAckMsg{}, err
	}
	return BatchDecrementAckMsg{Counter: atoiLenient(slice(payload, 0, 4))}, nil
}

// JobReplyMsg is the payload of MID 0035.
type JobReplyMsg struct {
	JobID string
}

func DecodeJobReply(payload []byte) (JobReplyMsg, error) {
	if err := need(payload, 4, JobReply, ""); err != nil {
		return JobReplyMsg{}, err
	}
	return JobReplyMsg{JobID: trimmed(payload, 0, 4)}, nil
}

// ToolStatusMsg is the payload of MID 0041.
type ToolStatusMsg struct {
	ControllerReady bool
	ToolEnabled     bool
	ToolRunning     bool
	AlarmActive     bool
}

func DecodeToolStatus(payload []byte) (ToolStatusMsg, error) {
	if err := need(payload, 4, ToolStatus, ""); err != nil {
		return ToolStatusMsg{}, err
	}
	return ToolStatusMsg{
		ControllerReady: boolFlag(payload, 0),
		ToolEnabled:     boolFlag(payload, 1),
		ToolRunning:     boolFlag(payload, 2),
		AlarmActive:     boolFlag(payload, 3),
	}, nil
}

// VINReplyMsg is the payload of MID 0051.
type VINReplyMsg struct {
	VIN string
}

func DecodeVINReply(payload []byte) (VINReplyMsg, error) {
	return VINReplyMsg{VIN: trimmed(payload, 0, 25)}, nil
}

// VINRequiredMsg is the payload of MID 0052.
type VINRequiredMsg struct {
	Required bool
}

func DecodeVINRequired(payload []byte) (VINRequiredMsg, error) {
	if err := need(payload, 1, VINRequired, ""); err != nil {
		return VINRequiredMsg{}, err
	}
	return VINRequiredMsg{Required: boolFlag(payload, 0)}, nil
}

// AlarmMsg is the payload of MID 0070 (inbound alarm report).
type AlarmMsg struct {
	Code string
	Text string
}

func DecodeAlarm(payload []byte) (AlarmMsg, error) {
	if err := need(payload, 4, Alarm, ""); err != nil {
		return AlarmMsg{}, err
	}
	return AlarmMsg{
		Code: trimmed(payload, 0, 4),
		Text: trimmed(payload, 4, len(payload)),
	}, nil
}

// AlarmStatusMsg is the payload of MID 0076.
type AlarmStatusMsg struct {
	AlarmStatus bool
}

func DecodeAlarmStatus(payload []byte) (AlarmStatusMsg, error) {
	if err := need(payload, 1, AlarmStatus, ""); err != nil {
		return AlarmStatusMsg{}, err
	}
	return AlarmStatusMsg{AlarmStatus: boolFlag(payload, 0)}, nil
}

// MultiSpindleDoneMsg is the payload of MID 0101.
type MultiSpindleDoneMsg struct {
	SpindleCount int
}

func DecodeMultiSpindleDone(payload []byte) (MultiSpindleDoneMsg, error) {
	if err := need(payload, 2, MultiSpindleDone, ""); err != nil {
		return MultiSpindleDoneMsg{}, err
	}
	return MultiSpindleDoneMsg{SpindleCount: atoiLenient(slice(payload, 0, 2))}, nil
}

// SpindleResult is the revision-normalized representation of a MID
// 0061/0065 tightening result, regardless of which wire layout produced
// it.
type SpindleResult struct {
	Revision     int
	Spindle      int
	TighteningID string

	Torque       float64
	Angle        float64
	TorqueMin    float64
	TorqueMax    float64
	TorqueTarget float64
	TorqueFinal  float64
	AngleMin     float64
	AngleMax     float64
	AngleTarget  float64

	TorqueStatus bool
	AngleStatus  bool
	OK           bool

	Timestamp      string
	BatchStatus    byte
	VIN            string
	JobID            string
	ParamSetID       string
	BatchSize        int
	BatchCounter     int
	CellID           string
	ChannelID        string
	ControllerName   string
	LastPsetChange   string
}

// DecodeResult dispatches a MID 0061/0065 payload to the parser for the
// controller's declared protocol revision.
func DecodeResult(revision int, h frame.Header, payload []byte) (SpindleResult, error) {
	switch revision {
	case 1:
		return decodeResultRev1(h, payload)
	case 2, 3:
		return decodeResultRev23(revision, payload)
	case 4:
		return decodeResultRev4(payload)
	default:
		return SpindleResult{}, fmt.Errorf("mid: unsupported result revision %d", revision)
	}
}

func decodeResultRev1(h frame.Header, payload []byte) (SpindleResult, error) {
	if err := need(payload, 24, LastResult, "1"); err != nil {
		return SpindleResult{}, err
	}
	spindle := atoiLenient(h.Spindle)
	torqueStatus := boolFlag(payload, 22)
	angleStatus := boolFlag(payload, 23)
	return SpindleResult{
		Revision:     1,
		Spindle:      spindle,
		TighteningID: trimmed(payload, 0, 10),
		Torque:       centi(payload, 10, 16),
		Angle:        float64(atoiLenient(slice(payload, 16, 22))),
		TorqueStatus: torqueStatus,
		AngleStatus:  angleStatus,
		OK:           torqueStatus && angleStatus,
	}, nil
}

func decodeResultRev23(revision int, payload []byte) (SpindleResult, error) {
	if err := need(payload, 95, LastResult, "2-3"); err != nil {
		return SpindleResult{}, err
	}
	torqueStatus := boolFlag(payload, 42)
	angleStatus := boolFlag(payload, 43)
	return SpindleResult{
		Revision:     revision,
		TighteningID: trimmed(payload, 0, 10),
		Spindle:      atoiLenient(slice(payload, 10, 12)),
		Torque:       centi(payload, 12, 18),
		Angle:        float64(atoiLenient(slice(payload, 18, 24))),
		TorqueMin:    centi(payload, 24, 30),
		TorqueMax:    centi(payload, 30, 36),
		TorqueFinal:  centi(payload, 36, 42),
		TorqueStatus: torqueStatus,
		AngleStatus:  angleStatus,
		OK:           torqueStatus && angleStatus,
		// batch_status sits inside the timestamp span at byte 49 per the
		// spec's literal offsets; the two fields overlap on the wire.
		Timestamp:   trimmed(payload, 44, 63),
		BatchStatus: byteAt(payload, 49),
		VIN:         trimmed(payload, 63, 88),
		JobID:       trimmed(payload, 88, 92),
		ParamSetID:  trimmed(payload, 92, 95),
	}, nil
}

func decodeResultRev4(payload []byte) (SpindleResult, error) {
	if err := need(payload, 168, LastResult, "4"); err != nil {
		return SpindleResult{}, err
	}
	ok := boolFlag(payload, 71)
	torqueStatus := boolFlag(payload, 72)
	angleStatus := boolFlag(payload, 73)
	return SpindleResult{
		Revision:       4,
		Spindle:        1,
		CellID:         trimmed(payload, 0, 4),
		ChannelID:      trimmed(payload, 4, 6),
		ControllerName: trimmed(payload, 6, 31),
		VIN:            trimmed(payload, 31, 56),
		JobID:          trimmed(payload, 56, 60),
		ParamSetID:     trimmed(payload, 60, 63),
		BatchSize:      atoiLenient(slice(payload, 63, 67)),
		BatchCounter:   atoiLenient(slice(payload, 67, 71)),
		TorqueStatus:   torqueStatus,
		AngleStatus:    angleStatus,
		// The overall-status byte at 71 is authoritative for Rev 4 where
		// present, rather than re-deriving OK from the two status bytes.
		OK:             ok,
		TorqueMin:      centi(payload, 74, 80),
		TorqueMax:      centi(payload, 80, 86),
		TorqueTarget:   centi(payload, 86, 92),
		TorqueFinal:    centi(payload, 92, 98),
		AngleMin:       float64(atoiLenient(slice(payload, 98, 103))),
		AngleMax:       float64(atoiLenient(slice(payload, 103, 108))),
		AngleTarget:    float64(atoiLenient(slice(payload, 108, 113))),
		Angle:          float64(atoiLenient(slice(payload, 113, 118))),
		Timestamp:      trimmed(payload, 118, 137),
		LastPsetChange: trimmed(payload, 137, 156),
		BatchStatus:    byteAt(payload, 156),

		TighteningID: trimmed(payload, 157, 167),
	}, nil
}
