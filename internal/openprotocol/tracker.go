package openprotocol

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// commandTimeout is the default deadline for an outstanding command
// (§3, §5).
const commandTimeout = 5 * time.Second

// commandTracker assigns monotonically increasing command IDs, tracks
// outstanding commands per MID, and resolves them against inbound
// MID 0004/0005 or deadline expiry. It is only ever touched with the
// client's mutex held (§5) and needs no locking of its own.
type commandTracker struct {
	nextID            int64
	pending           map[int64]*trackedCommand
	allowDuplicates   bool
	now               func() time.Time
	timeoutDuration   time.Duration
}

type trackedCommand struct {
	id            int64
	correlationID string
	mid           string
	issuedAt      time.Time
	deadline      time.Time
}

func newCommandTracker(allowDuplicates bool) *commandTracker {
	return &commandTracker{
		pending:         make(map[int64]*trackedCommand),
		allowDuplicates: allowDuplicates,
		now:             time.Now,
		timeoutDuration: commandTimeout,
	}
}

// commandError is raised synchronously for the one-per-MID rule or
// send-time validation failures — never written to the wire.
type commandError struct {
	MID     string
	Message string
}

func (e *commandError) Error() string {
	return fmt.Sprintf("command error for mid %s: %s", e.MID, e.Message)
}

// beginSend registers a new pending command for mid and returns its
// command ID, or a *commandError if the one-per-MID rule rejects it.
func (t *commandTracker) beginSend(midStr string) (int64, error) {
	if !t.allowDuplicates {
		for _, p := range t.pending {
			if p.mid == midStr {
				return 0, &commandError{MID: midStr, Message: "command already pending for this mid"}
			}
		}
	}
	t.nextID++
	id := t.nextID
	now := t.now()
	t.pending[id] = &trackedCommand{
		id:            id,
		correlationID: uuid.NewString(),
		mid:           midStr,
		issuedAt:      now,
		deadline:      now.Add(t.timeoutDuration),
	}
	return id, nil
}

// firstPendingForMID returns the oldest pending command for a given MID,
// implementing the FIFO-over-MID resolution rule (§5).
func (t *commandTracker) firstPendingForMID(midStr string) *trackedCommand {
	var best *trackedCommand
	for _, p := range t.pending {
		if p.mid != midStr {
			continue
		}
		if best == nil || p.id < best.id {
			best = p
		}
	}
	return best
}

// resolve removes a pending command by ID and returns true if one existed.
func (t *commandTracker) resolve(id int64) bool {
	if _, ok := t.pending[id]; !ok {
		return false
	}
	delete(t.pending, id)
	return true
}

// expired returns pending commands whose deadline has passed, as of now.
func (t *commandTracker) expired(now time.Time) []*trackedCommand {
	var out []*trackedCommand
	for _, p := range t.pending {
		if !now.Before(p.deadline) {
			out = append(out, p)
		}
	}
	return out
}

// clear drains all pending commands (used on disconnect) and returns
// them for aborted-event emission.
func (t *commandTracker) clear() []*trackedCommand {
	out := make([]*trackedCommand, 0, len(t.pending))
	for _, p := range t.pending {
		out = append(out, p)
	}
	t.pending = make(map[int64]*trackedCommand)
	return out
}

func (t *commandTracker) snapshot() map[int64]PendingCommand {
	out := make(map[int64]PendingCommand, len(t.pending))
	for id, p := range t.pending {
		out[id] = PendingCommand{CommandID: id, CorrelationID: p.correlationID, MID: p.mid, IssuedAt: p.issuedAt, Deadline: p.deadline}
	}
	return out
}
