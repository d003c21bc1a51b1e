package openprotocol

import (
	"time"

	"github.com/ehrlich-b/opclient/internal/openprotocol/mid"
)

// SpindleCountSource records which authority last set tool.spindle_count.
type SpindleCountSource string

const (
	SpindleCountDefault SpindleCountSource = "default"
	SpindleCountConfig  SpindleCountSource = "config"
	SpindleCountManual  SpindleCountSource = "manual"
	SpindleCountMID101  SpindleCountSource = "mid101"
	SpindleCountMID061  SpindleCountSource = "mid061"
)

// hasAuthority reports whether the current source is sticky against
// lower-authority updates from MID 0101/0061 (§3 invariant).
func (s SpindleCountSource) hasAuthority() bool {
	return s == SpindleCountConfig || s == SpindleCountManual
}

// ConnectionState is the Connection substate of the snapshot.
type ConnectionState struct {
	Connected         bool
	LinkReady         bool
	LastReceivedMID   string
	Reconnecting      bool
	ReconnectAttempts int
}

// ProtocolState is the Protocol substate of the snapshot.
type ProtocolState struct {
	Revision      int
	Subscriptions SubscriptionState
}

// SubscriptionState tracks which report streams are active.
type SubscriptionState struct {
	TighteningResults  bool
	Alarms             bool
	MultiSpindleStatus bool
}

// AlarmRecord is one entry in the controller's alarm list.
type AlarmRecord struct {
	Code      string
	Text      string
	Timestamp time.Time
}

// ControllerState is the Controller substate of the snapshot.
type ControllerState struct {
	Ready       bool
	ErrorActive bool
	ErrorCode   string
	Alarms      []AlarmRecord
}

// ToolState is the Tool substate of the snapshot.
type ToolState struct {
	Enabled             bool
	Running             bool
	SpindleCount        int
	SpindleCountSource  SpindleCountSource
}

// ProductState is the Product substate of the snapshot.
type ProductState struct {
	VIN         string
	VINRequired bool
	VINValid    bool
	VINLocked   bool
}

// JobState is the Job substate of the snapshot.
type JobState struct {
	JobID      string
	ParamSetID string
	Active     bool
	Locked     bool
}

// BatchState is the Batch substate of the snapshot.
type BatchState struct {
	BatchID      string
	Size         int
	Counter      int
	Active       bool
	Complete     bool
	Locked       bool
	PendingReset bool
}

// TighteningState is the ephemeral per-cycle aggregation state.
type TighteningState struct {
	InProgress      bool
	CycleStartTS    time.Time
	PendingSpindles map[int]mid.SpindleResult
	WatchdogDeadline time.Time
}

// PendingCommand is one outstanding command awaiting ACK/NAK. CommandID
// is the spec's primary, monotonic key (§3 invariant); CorrelationID is
// a secondary uuid token carried for cross-process log correlation,
// mirroring how the teacher tags its messages.
type PendingCommand struct {
	CommandID     int64
	CorrelationID string
	MID           string
	IssuedAt      time.Time
	Deadline      time.Time
}

// Snapshot is the full hierarchical state tree exposed to callers via
// getState(). It is always a deep copy of the internal state; callers
// must not, and cannot, mutate the live client through it.
type Snapshot struct {
	Connection  ConnectionState
	Protocol    ProtocolState
	Controller  ControllerState
	Tool        ToolState
	Product     ProductState
	Job         JobState
	Batch       BatchState
	Tightening  TighteningState
	Pending     map[int64]PendingCommand
	FrameErrors int
	ParseErrors int
}

func (s *Snapshot) deepCopy() Snapshot {
	out := *s
	out.Controller.Alarms = append([]AlarmRecord(nil), s.Controller.Alarms...)
	out.Tightening.PendingSpindles = make(map[int]mid.SpindleResult, len(s.Tightening.PendingSpindles))
	for k, v := range s.Tightening.PendingSpindles {
		out.Tightening.PendingSpindles[k] = v
	}
	out.Pending = make(map[int64]PendingCommand, len(s.Pending))
	for k, v := range s.Pending {
		out.Pending[k] = v
	}
	return out
}

func newSnapshot() *Snapshot {
	return &Snapshot{
		Protocol: ProtocolState{Revision: 1},
		Tool:     ToolState{SpindleCount: 1, SpindleCountSource: SpindleCountDefault},
		Tightening: TighteningState{
			PendingSpindles: make(map[int]mid.SpindleResult),
		},
		Pending: make(map[int64]PendingCommand),
	}
}
