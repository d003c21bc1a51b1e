// Package mid implements the revision-sensitive decode/encode table for
// the fixed set of Open Protocol message identifiers (MIDs) this client
// supports.
package mid

// Inbound message identifiers.
const (
	CommStartAck     = "0002" // also accept "0003" as an alias some firmware emits
	CommStartAckAlt  = "0003"
	CommandError     = "0004"
	CommandAccepted  = "0005"
	ParamSetReply    = "0011"
	BatchDecrementAck = "0021"
	BatchReply       = "0031"
	JobReply         = "0035"
	ToolStatus       = "0041"
	VINReply         = "0051"
	VINRequired      = "0052"
	LastResult       = "0061"
	OldResult        = "0065"
	Alarm            = "0070"
	AlarmStatus      = "0076"
	MultiSpindleDone = "0101"
)

// Outbound message identifiers.
const (
	CommStart           = "0001"
	CommStop            = "0002"
	SelectParamSet       = "0018"
	ResetBatch          = "0020"
	DecrementBatch      = "0021"
	SelectJob           = "0034"
	EnableTool          = "0042"
	StartTool           = "0043"
	DisableTool         = "0045"
	DownloadVIN         = "0050"
	SubscribeResults    = "0060"
	ResultAck           = "0062"
	UnsubscribeResults  = "0063"
	SubscribeAlarms     = "0070"
	UnsubscribeAlarms   = "0073"
	AcknowledgeAlarm    = "0078"
	Heartbeat           = "9999"
)
