package interaction

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func newWaitingTask(t *testing.T, callback ResumeCallback) *TaskExecutionContext {
	t.Helper()

	task := NewTaskExecutionContext("task-1", "fill the form", "ui", testLogger())
	task.SetState(StateRunning, "test start")

	rc, err := NewResumeContext(0, "input_text", noopAction,
		nil, map[string]any{"text": "draft"}, StrategyReplaceParam, nil)
	require.NoError(t, err)

	task.PauseForInput("q-abc123", rc, callback, "")
	return task
}

func TestTaskResumeOutsideWaiting(t *testing.T) {
	task := NewTaskExecutionContext("task-1", "goal", "", testLogger())
	task.SetState(StateRunning, "test start")

	err := task.ResumeWithAnswer("answer", nil)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestTaskPauseAndResume(t *testing.T) {
	var resumed *ResumeContext
	var gotAnswer any

	task := newWaitingTask(t, func(rc *ResumeContext, answer any) error {
		resumed = rc
		gotAnswer = answer
		return nil
	})

	require.Equal(t, StateWaitingForInput, task.State())
	require.Equal(t, "q-abc123", task.PendingQuestionID())

	require.NoError(t, task.ResumeWithAnswer("final", nil))
	require.Equal(t, StateRunning, task.State())
	require.Empty(t, task.PendingQuestionID())

	require.NotNil(t, resumed)
	require.Equal(t, "final", gotAnswer)
	require.True(t, resumed.Applied())

	_, kwargs := resumed.ModifiedArgs()
	require.Equal(t, "final", kwargs["text"])
}

func TestTaskPauseWhileWaitingIsNoop(t *testing.T) {
	task := newWaitingTask(t, nil)

	rc, err := NewResumeContext(1, "tap", noopAction, nil, nil, StrategyElementSelection, nil)
	require.NoError(t, err)

	task.PauseForInput("q-second", rc, nil, "")
	require.Equal(t, "q-abc123", task.PendingQuestionID(), "first suspension stays in place")
}

func TestTaskResumeCallbackErrorCaptured(t *testing.T) {
	cbErr := errors.New("action replay failed")
	task := newWaitingTask(t, func(rc *ResumeContext, answer any) error {
		return cbErr
	})

	require.NoError(t, task.ResumeWithAnswer("x", nil))
	require.ErrorIs(t, task.Err(), cbErr)
	require.Equal(t, StateRunning, task.State(), "callback failure does not break the state machine")
}

func TestTaskResumeCallbackPanicContained(t *testing.T) {
	task := newWaitingTask(t, func(rc *ResumeContext, answer any) error {
		panic("boom")
	})

	require.NoError(t, task.ResumeWithAnswer("x", nil))
	require.Error(t, task.Err())
}

func TestTaskRecordAction(t *testing.T) {
	task := NewTaskExecutionContext("task-1", "goal", "", testLogger())

	task.RecordAction("tap", []any{"button"}, nil, "ok", nil)
	task.RecordAction("swipe", nil, map[string]any{"direction": "up"}, nil, errors.New("offscreen"))

	actions := task.Actions()
	require.Len(t, actions, 2)
	require.Equal(t, 0, actions[0].Step)
	require.Equal(t, "tap", actions[0].Action)
	require.Empty(t, actions[0].Error)
	require.Equal(t, 1, actions[1].Step)
	require.Equal(t, "offscreen", actions[1].Error)
	require.Equal(t, 2, task.CurrentStep())
}

func TestTaskVariables(t *testing.T) {
	task := NewTaskExecutionContext("task-1", "goal", "", testLogger())

	require.Equal(t, "fallback", task.GetVariable("missing", "fallback"))

	task.SetVariable("device", "pixel-7")
	require.Equal(t, "pixel-7", task.GetVariable("device", nil))
}

func TestTaskTerminalTransitions(t *testing.T) {
	task := NewTaskExecutionContext("task-1", "goal", "", testLogger())
	task.SetState(StateRunning, "test start")

	task.Complete("all done")
	require.Equal(t, StateCompleted, task.State())
	require.Equal(t, "all done", task.Result())

	// Terminal states are final.
	task.Fail(errors.New("too late"))
	require.Equal(t, StateCompleted, task.State())
	require.NoError(t, task.Err())

	task.Cancel("too late")
	require.Equal(t, StateCompleted, task.State())
}

func TestTaskCancelWhileWaiting(t *testing.T) {
	task := newWaitingTask(t, nil)

	task.Cancel("operator disconnected")
	require.Equal(t, StateCancelled, task.State())

	err := task.ResumeWithAnswer("late", nil)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestTaskSummary(t *testing.T) {
	task := newWaitingTask(t, nil)
	task.RecordAction("tap", nil, nil, nil, nil)

	s := task.Summary()
	require.Equal(t, "task-1", s["task_id"])
	require.Equal(t, string(StateWaitingForInput), s["state"])
	require.Equal(t, true, s["is_waiting_for_input"])
	require.Equal(t, "q-abc123", s["pending_question_id"])
	require.Equal(t, 1, s["executed_actions"])
}
