package interaction

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskrelay/taskrelay/internal/metrics"
	"github.com/taskrelay/taskrelay/internal/protocol"
)

// DefaultQuestionTimeout applies when an AskRequest carries no timeout and
// no override was configured via SetDefaultTimeout. Every question has a
// mandatory timeout; there is no wait-forever mode.
const DefaultQuestionTimeout = 60 * time.Second

// SendQuestionFunc delivers a question to the remote operator. The gateway
// installs its implementation via SetSendFunc.
type SendQuestionFunc func(q *protocol.UserQuestion) error

// AnswerCallback runs when an answer arrives for a question. Errors are
// logged and contained; they never corrupt question bookkeeping.
type AnswerCallback func(rc *ResumeContext, answer any, extra map[string]any) error

// TimeoutCallback runs when a question times out and resolves with its
// default value.
type TimeoutCallback func(rc *ResumeContext, answer any) error

// PendingQuestion is a question dispatched to the operator and not yet
// resolved. Exactly one of answer delivery, timeout, or explicit
// cancellation resolves its future.
type PendingQuestion struct {
	QuestionID   string
	TaskID       string
	Text         string
	Kind         protocol.QuestionType
	Options      []string
	DefaultValue any
	Timeout      time.Duration
	CreatedAt    time.Time

	Future *Future
	Resume *ResumeContext

	onAnswer  AnswerCallback
	onTimeout TimeoutCallback
}

// AskRequest carries the parameters of a non-blocking question.
type AskRequest struct {
	TaskID       string
	Text         string
	Kind         protocol.QuestionType
	Options      []string
	DefaultValue any
	Timeout      time.Duration
	Resume       *ResumeContext
	OnAnswer     AnswerCallback
	OnTimeout    TimeoutCallback
}

// InteractionManager orchestrates non-blocking question/answer exchange:
// it owns the pending-question registry, arms a timeout per question, and
// guarantees each question's future resolves exactly once.
type InteractionManager struct {
	logger   *slog.Logger
	timeouts *TimeoutManager

	mu             sync.Mutex
	tasks          map[string]*TaskExecutionContext
	pending        map[string]*PendingQuestion
	send           SendQuestionFunc
	defaultTimeout time.Duration
	running        bool

	metrics *metrics.Interaction
}

// NewInteractionManager creates a manager with its own TimeoutManager.
func NewInteractionManager(logger *slog.Logger) *InteractionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &InteractionManager{
		logger:         logger,
		timeouts:       NewTimeoutManager(logger),
		tasks:          make(map[string]*TaskExecutionContext),
		pending:        make(map[string]*PendingQuestion),
		defaultTimeout: DefaultQuestionTimeout,
		running:        true,
	}
}

// SetDefaultTimeout overrides the timeout applied to AskRequests that carry
// none. Non-positive values are ignored.
func (m *InteractionManager) SetDefaultTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultTimeout = d
}

// SetSendFunc installs the outbound transport for questions.
func (m *InteractionManager) SetSendFunc(send SendQuestionFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.send = send
}

// SetMetrics installs prometheus instrumentation.
func (m *InteractionManager) SetMetrics(im *metrics.Interaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = im
}

// RegisterTask adds a task to the registry.
func (m *InteractionManager) RegisterTask(task *TaskExecutionContext) {
	m.mu.Lock()
	m.tasks[task.TaskID] = task
	count := len(m.tasks)
	im := m.metrics
	m.mu.Unlock()

	if im != nil {
		im.ActiveTasks.Set(float64(count))
	}
	m.logger.Debug("task registered", "task_id", task.TaskID)
}

// UnregisterTask removes a task and cancels all of its pending questions,
// leaving no orphaned timers. Returns false if the task was unknown.
func (m *InteractionManager) UnregisterTask(taskID string) bool {
	m.mu.Lock()
	_, ok := m.tasks[taskID]
	if ok {
		delete(m.tasks, taskID)
	}
	count := len(m.tasks)
	im := m.metrics
	m.mu.Unlock()

	if !ok {
		return false
	}
	m.CancelTaskQuestions(taskID)
	if im != nil {
		im.ActiveTasks.Set(float64(count))
	}
	m.logger.Debug("task unregistered", "task_id", taskID)
	return true
}

// Task returns the registered task context, or nil.
func (m *InteractionManager) Task(taskID string) *TaskExecutionContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks[taskID]
}

// AskAsync dispatches a question to the operator and returns immediately
// with the question id: "question dispatched", not "answer received". The
// answer arrives later via ProvideAnswer, or the timeout resolves the
// question with its default value.
func (m *InteractionManager) AskAsync(req AskRequest) (string, error) {
	if req.Kind == "" {
		req.Kind = protocol.QuestionTypeText
	}

	m.mu.Lock()
	if req.Timeout <= 0 {
		req.Timeout = m.defaultTimeout
	}
	if !m.running {
		m.mu.Unlock()
		return "", fmt.Errorf("ask: %w", ErrShutdown)
	}
	if _, ok := m.tasks[req.TaskID]; !ok {
		m.mu.Unlock()
		return "", fmt.Errorf("ask for task %q: %w", req.TaskID, ErrTaskNotFound)
	}

	questionID := fmt.Sprintf("q-%s", uuid.New().String()[:8])
	question := &PendingQuestion{
		QuestionID:   questionID,
		TaskID:       req.TaskID,
		Text:         req.Text,
		Kind:         req.Kind,
		Options:      req.Options,
		DefaultValue: req.DefaultValue,
		Timeout:      req.Timeout,
		CreatedAt:    time.Now(),
		Future:       NewFuture(),
		Resume:       req.Resume,
		onAnswer:     req.OnAnswer,
		onTimeout:    req.OnTimeout,
	}
	m.pending[questionID] = question
	send := m.send
	im := m.metrics
	pendingCount := len(m.pending)
	m.mu.Unlock()

	if err := m.timeouts.Set(questionID, req.Timeout, func() {
		m.onQuestionTimeout(questionID)
	}); err != nil {
		m.mu.Lock()
		delete(m.pending, questionID)
		m.mu.Unlock()
		return "", fmt.Errorf("ask for task %q: %w", req.TaskID, err)
	}

	if im != nil {
		im.QuestionsAsked.Inc()
		im.PendingQuestions.Set(float64(pendingCount))
	}

	if send != nil {
		wire := &protocol.UserQuestion{
			QuestionID:     questionID,
			QuestionText:   req.Text,
			QuestionType:   req.Kind,
			Options:        req.Options,
			DefaultValue:   req.DefaultValue,
			TimeoutSeconds: req.Timeout.Seconds(),
		}
		if err := send(wire); err != nil {
			// Send failures do not fail the ask: the timeout still
			// resolves the question with its default value.
			m.logger.Error("failed to send question",
				"question_id", questionID,
				"task_id", req.TaskID,
				"error", err)
		} else {
			m.logger.Info("question sent",
				"question_id", questionID,
				"task_id", req.TaskID,
				"kind", req.Kind)
		}
	} else {
		m.logger.Info("question dispatched without transport",
			"question_id", questionID,
			"task_id", req.TaskID,
			"question", req.Text)
	}

	return questionID, nil
}

// ProvideAnswer routes an operator answer to its question: cancels the
// pending timeout, invokes the on-answer callback, resolves the future, and
// discards the record. Returns false for unknown ids: late or duplicated
// network deliveries are tolerated, never fatal.
func (m *InteractionManager) ProvideAnswer(questionID string, answer any, extra map[string]any) bool {
	question, ok := m.takeQuestion(questionID)
	if !ok {
		m.logger.Warn("answer for unknown question", "question_id", questionID)
		return false
	}

	m.logger.Info("answer received", "question_id", questionID, "task_id", question.TaskID)

	m.timeouts.Cancel(questionID)

	if question.onAnswer != nil {
		m.runContained("answer callback", questionID, func() error {
			return question.onAnswer(question.Resume, answer, extra)
		})
	}

	question.Future.Resolve(answer)
	m.recordResolution(metrics.OutcomeAnswered)
	return true
}

// onQuestionTimeout resolves a question with its configured default value.
// Mutually exclusive with ProvideAnswer: whichever removes the pending
// record first owns resolution.
func (m *InteractionManager) onQuestionTimeout(questionID string) {
	question, ok := m.takeQuestion(questionID)
	if !ok {
		return
	}

	m.logger.Warn("question timed out",
		"question_id", questionID,
		"task_id", question.TaskID,
		"default", question.DefaultValue)

	if question.onTimeout != nil {
		m.runContained("timeout callback", questionID, func() error {
			return question.onTimeout(question.Resume, question.DefaultValue)
		})
	}

	question.Future.Resolve(question.DefaultValue)
	m.recordResolution(metrics.OutcomeTimeout)
}

// CancelQuestion cancels a pending question: timer cancelled, future
// cancelled (not resolved), record discarded. Callers awaiting the future
// observe ErrQuestionCancelled, distinct from a timeout's default value.
func (m *InteractionManager) CancelQuestion(questionID string) bool {
	question, ok := m.takeQuestion(questionID)
	if !ok {
		return false
	}

	m.timeouts.Cancel(questionID)
	question.Future.Cancel()
	m.recordResolution(metrics.OutcomeCancelled)
	m.logger.Info("question cancelled", "question_id", questionID, "task_id", question.TaskID)
	return true
}

// CancelTaskQuestions cancels every pending question belonging to taskID.
// The id list is snapshotted before iteration so cancellation never mutates
// the registry mid-scan.
func (m *InteractionManager) CancelTaskQuestions(taskID string) {
	for _, id := range m.PendingQuestions(taskID) {
		m.CancelQuestion(id)
	}
}

// PendingQuestions lists pending question ids; taskID filters to one task,
// "" lists all.
func (m *InteractionManager) PendingQuestions(taskID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id, q := range m.pending {
		if taskID == "" || q.TaskID == taskID {
			ids = append(ids, id)
		}
	}
	return ids
}

// HasPendingQuestion reports whether the question is still unresolved.
func (m *InteractionManager) HasPendingQuestion(questionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[questionID]
	return ok
}

// Question returns the pending question record, or nil.
func (m *InteractionManager) Question(questionID string) *PendingQuestion {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending[questionID]
}

// TimeoutRemaining exposes the wall-clock budget left on a question's
// timer, for diagnostics.
func (m *InteractionManager) TimeoutRemaining(questionID string) (time.Duration, bool) {
	return m.timeouts.Remaining(questionID)
}

// Summary returns a diagnostic snapshot of the manager.
func (m *InteractionManager) Summary() map[string]any {
	m.mu.Lock()
	taskIDs := make([]string, 0, len(m.tasks))
	for id := range m.tasks {
		taskIDs = append(taskIDs, id)
	}
	questionIDs := make([]string, 0, len(m.pending))
	for id := range m.pending {
		questionIDs = append(questionIDs, id)
	}
	running := m.running
	m.mu.Unlock()

	return map[string]any{
		"running":           running,
		"registered_tasks":  len(taskIDs),
		"task_ids":          taskIDs,
		"pending_questions": len(questionIDs),
		"question_ids":      questionIDs,
		"timeout_manager":   m.timeouts.Summary(),
	}
}

// Shutdown cancels every pending question, shuts down the timeout manager,
// and clears the task registry.
func (m *InteractionManager) Shutdown() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()

	for _, id := range m.PendingQuestions("") {
		m.CancelQuestion(id)
	}
	m.timeouts.Shutdown()

	m.mu.Lock()
	m.tasks = make(map[string]*TaskExecutionContext)
	im := m.metrics
	m.mu.Unlock()

	if im != nil {
		im.ActiveTasks.Set(0)
	}
	m.logger.Info("interaction manager shut down")
}

// takeQuestion atomically removes and returns the pending record. Removal
// is what makes the answer/timeout/cancel paths mutually exclusive.
func (m *InteractionManager) takeQuestion(questionID string) (*PendingQuestion, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	question, ok := m.pending[questionID]
	if !ok {
		return nil, false
	}
	delete(m.pending, questionID)
	if m.metrics != nil {
		m.metrics.PendingQuestions.Set(float64(len(m.pending)))
	}
	return question, true
}

// runContained executes a resolution callback, logging errors and panics
// instead of letting them escape into the resolving path.
func (m *InteractionManager) runContained(what, questionID string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error(what+" panic", "question_id", questionID, "panic", r)
		}
	}()
	if err := fn(); err != nil {
		m.logger.Error(what+" failed", "question_id", questionID, "error", err)
	}
}

func (m *InteractionManager) recordResolution(outcome string) {
	m.mu.Lock()
	im := m.metrics
	m.mu.Unlock()
	if im != nil {
		im.QuestionsResolved.WithLabelValues(outcome).Inc()
	}
}
