package interaction

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ActionRecord is one entry in a task's ordered action log.
type ActionRecord struct {
	Step      int            `json:"step"`
	Action    string         `json:"action"`
	Args      []any          `json:"args,omitempty"`
	Kwargs    map[string]any `json:"kwargs,omitempty"`
	Result    any            `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ResumeCallback is invoked when a waiting task resumes with an answer.
// A returned error is captured as the task's error; it never crashes the
// state machine.
type ResumeCallback func(rc *ResumeContext, answer any) error

// TaskExecutionContext is the per-task state machine: lifecycle state,
// scoped variables, the ordered action log, and the current suspension
// point. It is owned by LifecycleManager and mutated only through its own
// methods so transition logging stays centralized.
type TaskExecutionContext struct {
	TaskID   string
	Goal     string
	Category string

	logger *slog.Logger

	mu        sync.Mutex
	state     TaskState
	createdAt time.Time
	updatedAt time.Time

	currentStep int
	actions     []ActionRecord
	variables   map[string]any

	resumeCtx         *ResumeContext
	pendingQuestionID string
	resumeCallback    ResumeCallback

	result any
	err    error
}

// NewTaskExecutionContext creates a task in the initialized state.
func NewTaskExecutionContext(taskID, goal, category string, logger *slog.Logger) *TaskExecutionContext {
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now()
	return &TaskExecutionContext{
		TaskID:    taskID,
		Goal:      goal,
		Category:  category,
		logger:    logger,
		state:     StateInitialized,
		createdAt: now,
		updatedAt: now,
		variables: make(map[string]any),
	}
}

// State returns the current lifecycle state.
func (t *TaskExecutionContext) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SetState transitions unconditionally, recording old/new state and the
// reason. It is a bookkeeping primitive; the named lifecycle methods
// enforce the transition table.
func (t *TaskExecutionContext) SetState(newState TaskState, reason string) {
	t.mu.Lock()
	old := t.state
	t.state = newState
	t.updatedAt = time.Now()
	t.mu.Unlock()

	t.logger.Info("task state changed",
		"task_id", t.TaskID,
		"from", old,
		"to", newState,
		"reason", reason)
}

// setStateLocked is SetState for callers already holding the mutex.
func (t *TaskExecutionContext) setStateLocked(newState TaskState, reason string) {
	old := t.state
	t.state = newState
	t.updatedAt = time.Now()
	t.logger.Info("task state changed",
		"task_id", t.TaskID,
		"from", old,
		"to", newState,
		"reason", reason)
}

// PauseForInput stores the suspension record and transitions to
// waiting_for_input. Calling it while already waiting is a no-op with a
// warning.
func (t *TaskExecutionContext) PauseForInput(questionID string, rc *ResumeContext, callback ResumeCallback, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateWaitingForInput {
		t.logger.Warn("task already waiting for input",
			"task_id", t.TaskID,
			"question_id", t.pendingQuestionID)
		return
	}

	t.resumeCtx = rc
	t.pendingQuestionID = questionID
	t.resumeCallback = callback

	if reason == "" {
		reason = "operator input required"
	}
	t.setStateLocked(StateWaitingForInput, reason)

	t.logger.Info("task paused",
		"task_id", t.TaskID,
		"question_id", questionID,
		"action", rc.ActionName)
}

// ResumeWithAnswer applies the answer to the stored suspension record,
// transitions back to running, and invokes the resume callback. Valid only
// in waiting_for_input.
func (t *TaskExecutionContext) ResumeWithAnswer(answer any, extra map[string]any) error {
	t.mu.Lock()
	if t.state != StateWaitingForInput {
		state := t.state
		t.mu.Unlock()
		return fmt.Errorf("cannot resume task %s in state %q: %w", t.TaskID, state, ErrInvalidState)
	}
	rc := t.resumeCtx
	callback := t.resumeCallback
	if rc == nil {
		t.mu.Unlock()
		return fmt.Errorf("task %s has no resume context: %w", t.TaskID, ErrInvalidState)
	}

	if _, _, err := rc.ApplyAnswer(answer, extra); err != nil {
		t.mu.Unlock()
		return fmt.Errorf("task %s: %w", t.TaskID, err)
	}

	t.setStateLocked(StateRunning, "resumed with operator answer")
	t.resumeCtx = nil
	t.pendingQuestionID = ""
	t.resumeCallback = nil
	t.mu.Unlock()

	t.logger.Info("task resumed", "task_id", t.TaskID, "question_id", rc.ResumeID)

	if callback != nil {
		t.runResumeCallback(callback, rc, answer)
	}
	return nil
}

// runResumeCallback contains callback failures as the task's error.
func (t *TaskExecutionContext) runResumeCallback(callback ResumeCallback, rc *ResumeContext, answer any) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("resume callback panic", "task_id", t.TaskID, "panic", r)
			t.mu.Lock()
			t.err = fmt.Errorf("resume callback panic: %v", r)
			t.mu.Unlock()
		}
	}()

	if err := callback(rc, answer); err != nil {
		t.logger.Error("resume callback failed", "task_id", t.TaskID, "error", err)
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
	}
}

// RecordAction appends to the action log and increments the step counter.
// Called for every executed action whether or not it suspended.
func (t *TaskExecutionContext) RecordAction(name string, args []any, kwargs map[string]any, result any, actionErr error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record := ActionRecord{
		Step:      t.currentStep,
		Action:    name,
		Args:      args,
		Kwargs:    kwargs,
		Result:    result,
		Timestamp: time.Now(),
	}
	if actionErr != nil {
		record.Error = actionErr.Error()
	}
	t.actions = append(t.actions, record)
	t.currentStep++
}

// Actions returns a copy of the action log.
func (t *TaskExecutionContext) Actions() []ActionRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]ActionRecord(nil), t.actions...)
}

// CurrentStep returns the monotonic step counter.
func (t *TaskExecutionContext) CurrentStep() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentStep
}

// SetVariable stores a task-scoped value shared between the driver and
// individual actions.
func (t *TaskExecutionContext) SetVariable(key string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.variables[key] = value
}

// GetVariable reads a task-scoped value, falling back to def.
func (t *TaskExecutionContext) GetVariable(key string, def any) any {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.variables[key]; ok {
		return v
	}
	return def
}

// Complete marks the task completed. The terminal result is set exactly
// once; repeat terminal transitions are warned no-ops.
func (t *TaskExecutionContext) Complete(result any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !canTransition(t.state, StateCompleted) {
		t.logger.Warn("invalid completion", "task_id", t.TaskID, "state", t.state)
		return
	}
	t.setStateLocked(StateCompleted, "task completed successfully")
	t.result = result
	t.logger.Info("task completed", "task_id", t.TaskID, "steps", t.currentStep)
}

// Fail marks the task failed with the given error.
func (t *TaskExecutionContext) Fail(taskErr error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !canTransition(t.state, StateFailed) {
		t.logger.Warn("invalid failure transition", "task_id", t.TaskID, "state", t.state)
		return
	}
	t.setStateLocked(StateFailed, fmt.Sprintf("task failed: %v", taskErr))
	t.err = taskErr
	t.logger.Info("task failed", "task_id", t.TaskID, "error", taskErr)
}

// Cancel marks the task cancelled. A task waiting for input may be
// cancelled directly.
func (t *TaskExecutionContext) Cancel(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !canTransition(t.state, StateCancelled) {
		t.logger.Warn("invalid cancellation", "task_id", t.TaskID, "state", t.state)
		return
	}
	if reason == "" {
		reason = "task cancelled"
	}
	t.setStateLocked(StateCancelled, reason)
	t.logger.Info("task cancelled", "task_id", t.TaskID, "reason", reason)
}

// Result returns the terminal result, if any.
func (t *TaskExecutionContext) Result() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// Err returns the terminal or callback-captured error, if any.
func (t *TaskExecutionContext) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// PendingQuestionID returns the question id the task is waiting on, or "".
func (t *TaskExecutionContext) PendingQuestionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pendingQuestionID
}

// Summary returns a diagnostic snapshot of the task.
func (t *TaskExecutionContext) Summary() map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()

	return map[string]any{
		"task_id":              t.TaskID,
		"goal":                 t.Goal,
		"category":             t.Category,
		"state":                string(t.state),
		"current_step":         t.currentStep,
		"executed_actions":     len(t.actions),
		"is_waiting_for_input": t.state == StateWaitingForInput,
		"pending_question_id":  t.pendingQuestionID,
		"has_result":           t.result != nil,
		"has_error":            t.err != nil,
		"age_seconds":          time.Since(t.createdAt).Seconds(),
		"last_activity_age":    time.Since(t.updatedAt).Seconds(),
	}
}
