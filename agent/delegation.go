package agent

import (
	"encoding/json"
	"time"

	"github.com/Govcraft/acton-ai/types"
)

// TaskState is the lifecycle position of a delegated task. Transitions are
// monotonic: Pending -> Accepted -> {Completed | Failed}; terminal tasks
// are never reopened or overwritten.
type TaskState string

const (
	// TaskPending means the task was sent and awaits acceptance.
	TaskPending TaskState = "pending"
	// TaskAccepted means the target agent took the task on.
	TaskAccepted TaskState = "accepted"
	// TaskCompleted means the task finished with a result.
	TaskCompleted TaskState = "completed"
	// TaskFailed means the task finished with an error.
	TaskFailed TaskState = "failed"
)

func (s TaskState) String() string { return string(s) }

// IsTerminal reports whether the state admits no further transitions.
func (s TaskState) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// DelegatedTask tracks one task this agent handed to another.
type DelegatedTask struct {
	TaskID      types.TaskID
	DelegatedTo types.AgentID
	TaskType    string
	State       TaskState
	CreatedAt   time.Time
	// Deadline is relative to CreatedAt; zero means none.
	Deadline time.Duration
	Result   json.RawMessage
	// Reason holds the failure message when State is TaskFailed.
	Reason string
}

// NewDelegatedTask returns a Pending task record.
func NewDelegatedTask(taskID types.TaskID, to types.AgentID, taskType string) *DelegatedTask {
	return &DelegatedTask{
		TaskID:      taskID,
		DelegatedTo: to,
		TaskType:    taskType,
		State:       TaskPending,
		CreatedAt:   time.Now(),
	}
}

// WithDeadline sets a relative deadline.
func (t *DelegatedTask) WithDeadline(d time.Duration) *DelegatedTask {
	t.Deadline = d
	return t
}

// Accept moves the task to Accepted. Only valid from Pending.
func (t *DelegatedTask) Accept() error {
	if t.State.IsTerminal() {
		return types.NewErrorf(types.ErrTaskTerminal, "task %s already %s", t.TaskID, t.State)
	}
	if t.State != TaskPending {
		return types.NewErrorf(types.ErrInvalidTransition, "task %s cannot move from %s to accepted", t.TaskID, t.State)
	}
	t.State = TaskAccepted
	return nil
}

// Complete moves the task to Completed with its result.
func (t *DelegatedTask) Complete(result json.RawMessage) error {
	if t.State.IsTerminal() {
		return types.NewErrorf(types.ErrTaskTerminal, "task %s already %s", t.TaskID, t.State)
	}
	t.State = TaskCompleted
	t.Result = result
	return nil
}

// Fail moves the task to Failed with a reason.
func (t *DelegatedTask) Fail(reason string) error {
	if t.State.IsTerminal() {
		return types.NewErrorf(types.ErrTaskTerminal, "task %s already %s", t.TaskID, t.State)
	}
	t.State = TaskFailed
	t.Reason = reason
	return nil
}

// IsOverdue reports whether the task's deadline has elapsed without the
// task reaching a terminal state.
func (t *DelegatedTask) IsOverdue() bool {
	if t.Deadline == 0 || t.State.IsTerminal() {
		return false
	}
	return time.Since(t.CreatedAt) > t.Deadline
}

// IsTerminal reports whether the task finished.
func (t *DelegatedTask) IsTerminal() bool { return t.State.IsTerminal() }

// IncomingTask records a task another agent delegated to this one.
type IncomingTask struct {
	TaskID     types.TaskID
	From       types.AgentID
	TaskType   string
	Input      json.RawMessage
	ReceivedAt time.Time
	Accepted   bool
}

// DelegationTracker is a plain state machine holding an agent's outgoing
// and incoming delegations. It is not safe for concurrent use; each agent
// owns one inside its mailbox.
type DelegationTracker struct {
	outgoing map[types.TaskID]*DelegatedTask
	incoming map[types.TaskID]*IncomingTask
}

// NewDelegationTracker returns an empty tracker.
func NewDelegationTracker() *DelegationTracker {
	return &DelegationTracker{
		outgoing: make(map[types.TaskID]*DelegatedTask),
		incoming: make(map[types.TaskID]*IncomingTask),
	}
}

// TrackOutgoing inserts an outgoing task as Pending.
func (d *DelegationTracker) TrackOutgoing(task *DelegatedTask) {
	d.outgoing[task.TaskID] = task
}

// Outgoing returns the outgoing task, or nil when unknown.
func (d *DelegationTracker) Outgoing(taskID types.TaskID) *DelegatedTask {
	return d.outgoing[taskID]
}

// AcceptOutgoing marks an outgoing task accepted by its target.
func (d *DelegationTracker) AcceptOutgoing(taskID types.TaskID) error {
	task, ok := d.outgoing[taskID]
	if !ok {
		return types.NewErrorf(types.ErrTaskNotFound, "task %s not tracked", taskID)
	}
	return task.Accept()
}

// CompleteOutgoing records an outgoing task's result.
func (d *DelegationTracker) CompleteOutgoing(taskID types.TaskID, result json.RawMessage) error {
	task, ok := d.outgoing[taskID]
	if !ok {
		return types.NewErrorf(types.ErrTaskNotFound, "task %s not tracked", taskID)
	}
	return task.Complete(result)
}

// FailOutgoing records an outgoing task's failure.
func (d *DelegationTracker) FailOutgoing(taskID types.TaskID, reason string) error {
	task, ok := d.outgoing[taskID]
	if !ok {
		return types.NewErrorf(types.ErrTaskNotFound, "task %s not tracked", taskID)
	}
	return task.Fail(reason)
}

// TrackIncoming records a task delegated to this agent.
func (d *DelegationTracker) TrackIncoming(taskID types.TaskID, from types.AgentID, taskType string, input json.RawMessage) {
	d.incoming[taskID] = &IncomingTask{
		TaskID:     taskID,
		From:       from,
		TaskType:   taskType,
		Input:      input,
		ReceivedAt: time.Now(),
	}
}

// AcceptIncoming marks an incoming task accepted.
func (d *DelegationTracker) AcceptIncoming(taskID types.TaskID) bool {
	info, ok := d.incoming[taskID]
	if !ok {
		return false
	}
	info.Accepted = true
	return true
}

// Incoming returns the incoming task, or nil when unknown.
func (d *DelegationTracker) Incoming(taskID types.TaskID) *IncomingTask {
	return d.incoming[taskID]
}

// RemoveIncoming drops an incoming task once finished.
func (d *DelegationTracker) RemoveIncoming(taskID types.TaskID) *IncomingTask {
	info := d.incoming[taskID]
	delete(d.incoming, taskID)
	return info
}

// OutgoingCount counts all tracked outgoing tasks.
func (d *DelegationTracker) OutgoingCount() int { return len(d.outgoing) }

// IncomingCount counts all tracked incoming tasks.
func (d *DelegationTracker) IncomingCount() int { return len(d.incoming) }

// PendingOutgoingCount counts outgoing tasks not yet terminal.
func (d *DelegationTracker) PendingOutgoingCount() int {
	n := 0
	for _, t := range d.outgoing {
		if !t.IsTerminal() {
			n++
		}
	}
	return n
}

// PendingIncomingCount counts incoming tasks not yet accepted.
func (d *DelegationTracker) PendingIncomingCount() int {
	n := 0
	for _, t := range d.incoming {
		if !t.Accepted {
			n++
		}
	}
	return n
}

// OverdueOutgoing returns outgoing tasks past their deadline.
func (d *DelegationTracker) OverdueOutgoing() []*DelegatedTask {
	var overdue []*DelegatedTask
	for _, t := range d.outgoing {
		if t.IsOverdue() {
			overdue = append(overdue, t)
		}
	}
	return overdue
}

// CleanupCompleted removes terminal outgoing tasks, never pending or
// accepted ones.
func (d *DelegationTracker) CleanupCompleted() int {
	removed := 0
	for id, t := range d.outgoing {
		if t.IsTerminal() {
			delete(d.outgoing, id)
			removed++
		}
	}
	return removed
}
