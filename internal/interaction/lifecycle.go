package interaction

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// LifecycleManager is the composition façade over task contexts and the
// interaction manager: it creates and tracks tasks, wires them to the
// InteractionManager, and exposes a uniform task API to the driver.
type LifecycleManager struct {
	logger      *slog.Logger
	interaction *InteractionManager

	mu            sync.Mutex
	tasks         map[string]*TaskExecutionContext
	currentTaskID string
}

// NewLifecycleManager creates a lifecycle manager around an interaction
// manager. A nil interaction manager gets a fresh one.
func NewLifecycleManager(im *InteractionManager, logger *slog.Logger) *LifecycleManager {
	if logger == nil {
		logger = slog.Default()
	}
	if im == nil {
		im = NewInteractionManager(logger)
	}
	return &LifecycleManager{
		logger:      logger,
		interaction: im,
		tasks:       make(map[string]*TaskExecutionContext),
	}
}

// Interaction returns the wired interaction manager.
func (l *LifecycleManager) Interaction() *InteractionManager {
	return l.interaction
}

// StartTask creates a task context, transitions it to running, registers
// it with the interaction manager, and makes it the current task. An empty
// taskID gets a generated id.
func (l *LifecycleManager) StartTask(goal, category, taskID string) *TaskExecutionContext {
	if taskID == "" {
		taskID = fmt.Sprintf("task-%s", uuid.New().String()[:8])
	}
	if category == "" {
		category = "default"
	}

	task := NewTaskExecutionContext(taskID, goal, category, l.logger)
	task.SetState(StateRunning, "task started")

	l.mu.Lock()
	l.tasks[taskID] = task
	l.currentTaskID = taskID
	l.mu.Unlock()

	l.interaction.RegisterTask(task)

	l.logger.Info("task started", "task_id", taskID, "goal", goal, "category", category)
	return task
}

// Task returns the task for id, or the current task when id is "".
func (l *LifecycleManager) Task(taskID string) *TaskExecutionContext {
	l.mu.Lock()
	defer l.mu.Unlock()
	if taskID == "" {
		taskID = l.currentTaskID
	}
	return l.tasks[taskID]
}

// CurrentTask returns the most recently started task, or nil.
func (l *LifecycleManager) CurrentTask() *TaskExecutionContext {
	return l.Task("")
}

// RecordAction delegates to the named task's action log. Unknown tasks are
// ignored.
func (l *LifecycleManager) RecordAction(taskID, actionName string, args []any, kwargs map[string]any, result any, actionErr error) {
	if task := l.Task(taskID); task != nil {
		task.RecordAction(actionName, args, kwargs, result, actionErr)
	}
}

// SetVariable sets a task-scoped variable on the named task.
func (l *LifecycleManager) SetVariable(taskID, key string, value any) {
	if task := l.Task(taskID); task != nil {
		task.SetVariable(key, value)
	}
}

// GetVariable reads a task-scoped variable from the named task.
func (l *LifecycleManager) GetVariable(taskID, key string, def any) any {
	if task := l.Task(taskID); task != nil {
		return task.GetVariable(key, def)
	}
	return def
}

// CompleteTask terminates the task as completed or failed and unregisters
// it from the interaction manager, cancelling any outstanding questions.
func (l *LifecycleManager) CompleteTask(taskID string, success bool, reason string, result any) {
	task := l.Task(taskID)
	if task == nil {
		return
	}

	if success {
		task.Complete(result)
	} else {
		if reason == "" {
			reason = "task failed"
		}
		task.Fail(fmt.Errorf("%s", reason))
	}
	l.interaction.UnregisterTask(task.TaskID)
	l.clearCurrent(task.TaskID)
}

// CancelTask cancels the task and unregisters it from the interaction
// manager.
func (l *LifecycleManager) CancelTask(taskID, reason string) {
	task := l.Task(taskID)
	if task == nil {
		return
	}

	task.Cancel(reason)
	l.interaction.UnregisterTask(task.TaskID)
	l.clearCurrent(task.TaskID)
}

// TaskSummary returns the named task's summary, or an empty map.
func (l *LifecycleManager) TaskSummary(taskID string) map[string]any {
	if task := l.Task(taskID); task != nil {
		return task.Summary()
	}
	return map[string]any{}
}

// AllTaskSummaries returns summaries keyed by task id.
func (l *LifecycleManager) AllTaskSummaries() map[string]map[string]any {
	l.mu.Lock()
	tasks := make([]*TaskExecutionContext, 0, len(l.tasks))
	for _, task := range l.tasks {
		tasks = append(tasks, task)
	}
	l.mu.Unlock()

	out := make(map[string]map[string]any, len(tasks))
	for _, task := range tasks {
		out[task.TaskID] = task.Summary()
	}
	return out
}

// CleanupFinishedTasks sweeps terminal-state tasks out of the registry.
func (l *LifecycleManager) CleanupFinishedTasks() int {
	l.mu.Lock()
	var finished []string
	for id, task := range l.tasks {
		if task.State().Terminal() {
			finished = append(finished, id)
		}
	}
	for _, id := range finished {
		delete(l.tasks, id)
		if l.currentTaskID == id {
			l.currentTaskID = ""
		}
	}
	l.mu.Unlock()

	for _, id := range finished {
		l.interaction.UnregisterTask(id)
	}
	if len(finished) > 0 {
		l.logger.Info("cleaned up finished tasks", "count", len(finished))
	}
	return len(finished)
}

// Shutdown cancels every still-active task, then shuts down the
// interaction manager.
func (l *LifecycleManager) Shutdown() {
	l.mu.Lock()
	var active []string
	for id, task := range l.tasks {
		if !task.State().Terminal() {
			active = append(active, id)
		}
	}
	l.mu.Unlock()

	for _, id := range active {
		l.CancelTask(id, "lifecycle manager shutdown")
	}

	l.interaction.Shutdown()

	l.mu.Lock()
	l.tasks = make(map[string]*TaskExecutionContext)
	l.currentTaskID = ""
	l.mu.Unlock()

	l.logger.Info("lifecycle manager shut down")
}

func (l *LifecycleManager) clearCurrent(taskID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.currentTaskID == taskID {
		l.currentTaskID = ""
	}
}
