package interaction

// TaskState represents a task's lifecycle state
type TaskState string

const (
	StateInitialized     TaskState = "initialized"
	StateRunning         TaskState = "running"
	StateWaitingForInput TaskState = "waiting_for_input"
	StateCompleted       TaskState = "completed"
	StateFailed          TaskState = "failed"
	StateCancelled       TaskState = "cancelled"
)

// Terminal reports whether the state is final. Terminal tasks are swept
// from the registry by LifecycleManager.CleanupFinishedTasks.
func (s TaskState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// allowedTransitions is the lifecycle transition table. SetState bypasses
// it deliberately; the named lifecycle methods enforce it.
var allowedTransitions = map[TaskState][]TaskState{
	StateInitialized:     {StateRunning},
	StateRunning:         {StateWaitingForInput, StateCompleted, StateFailed, StateCancelled},
	StateWaitingForInput: {StateRunning, StateCancelled},
}

func canTransition(from, to TaskState) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ResumeStrategy selects how an operator's answer is merged back into the
// suspended action's original arguments.
type ResumeStrategy string

const (
	// StrategyReplaceParam overwrites the conventional "text"/"value"
	// keyword argument, falling back to the first positional argument.
	StrategyReplaceParam ResumeStrategy = "replace_param"
	// StrategyConfirmCancel parses the answer into a confirmed/cancelled
	// boolean; a cancelled action is never invoked.
	StrategyConfirmCancel ResumeStrategy = "confirm_cancel"
	// StrategyParameterFill writes the answer into the keyword argument
	// named by the "param_name" metadata entry.
	StrategyParameterFill ResumeStrategy = "parameter_fill"
	// StrategyElementSelection writes the answer into the
	// "selected_element" keyword argument.
	StrategyElementSelection ResumeStrategy = "element_select"
)

// Valid reports whether the strategy is one of the known strategies.
// Unknown strategies are rejected when a ResumeContext is constructed.
func (s ResumeStrategy) Valid() bool {
	switch s {
	case StrategyReplaceParam, StrategyConfirmCancel, StrategyParameterFill, StrategyElementSelection:
		return true
	}
	return false
}
