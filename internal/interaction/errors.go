package interaction

import "errors"

var (
	// ErrTaskNotFound is returned when a task id is not in the registry.
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidState is returned when a lifecycle operation is attempted
	// from a state that does not permit it (e.g. resuming a task that is
	// not waiting for input). It indicates a driver bug and is surfaced
	// to the caller rather than swallowed.
	ErrInvalidState = errors.New("invalid task state")

	// ErrAnswerNotApplied is returned when a resumed action is executed
	// before an answer has been applied to the resume context.
	ErrAnswerNotApplied = errors.New("answer not applied to resume context")

	// ErrAnswerAlreadyApplied is returned on a second ApplyAnswer call;
	// each suspension corresponds to exactly one question.
	ErrAnswerAlreadyApplied = errors.New("answer already applied to resume context")

	// ErrUserCancelled signals that the operator declined a
	// confirm-or-cancel question. The suspended action is never invoked.
	ErrUserCancelled = errors.New("user cancelled action")

	// ErrUnknownStrategy is returned when a ResumeContext is constructed
	// with a strategy outside the known set.
	ErrUnknownStrategy = errors.New("unknown resume strategy")

	// ErrDuplicateTimeout is returned when a timeout id is already
	// scheduled. Fatal to the Set call only.
	ErrDuplicateTimeout = errors.New("timeout id already scheduled")

	// ErrQuestionCancelled is observed by callers waiting on a question's
	// future when the question was cancelled rather than answered or
	// timed out.
	ErrQuestionCancelled = errors.New("question cancelled")

	// ErrShutdown is returned by operations attempted after shutdown.
	ErrShutdown = errors.New("manager is shut down")
)
