package interaction

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ActionFunc is any action callable with captured positional and keyword
// arguments. The core treats it as opaque; it may return immediately or
// suspend internally.
type ActionFunc func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// confirmedKey marks the parsed confirm-or-cancel decision inside the
// modified kwargs. It is stripped before the action is invoked.
const confirmedKey = "__user_confirmed"

// Negative keywords are checked before positive ones so a compound phrase
// like "不同意" never matches the positive substring "同意". Unmatched input
// defaults to cancelled: an ambiguous answer never authorizes an action.
var (
	negativeKeywords = []string{"否", "no", "n", "取消", "cancel", "false", "0", "停止", "不", "不同意"}
	positiveKeywords = []string{"是", "yes", "y", "确定", "确认", "ok", "okay", "true", "1", "继续", "同意"}
)

// ResumeContext captures a suspended action so the task can resume exactly
// where it paused once an answer arrives. The original argument snapshots
// are immutable; ApplyAnswer produces the modified snapshots exactly once.
type ResumeContext struct {
	ResumeID   string
	StepIndex  int
	ActionName string
	Strategy   ResumeStrategy
	// Meta carries free-form strategy metadata, e.g. "param_name" for
	// the parameter-fill strategy.
	Meta      map[string]any
	CreatedAt time.Time

	action         ActionFunc
	originalArgs   []any
	originalKwargs map[string]any

	mu             sync.Mutex
	applied        bool
	modifiedArgs   []any
	modifiedKwargs map[string]any
}

// NewResumeContext snapshots a pending action. Unknown strategies are
// rejected here rather than falling through silently at apply time.
func NewResumeContext(
	stepIndex int,
	actionName string,
	action ActionFunc,
	args []any,
	kwargs map[string]any,
	strategy ResumeStrategy,
	meta map[string]any,
) (*ResumeContext, error) {
	if !strategy.Valid() {
		return nil, fmt.Errorf("resume context for %q: strategy %q: %w", actionName, strategy, ErrUnknownStrategy)
	}
	if action == nil {
		return nil, fmt.Errorf("resume context for %q: action func is nil", actionName)
	}

	rc := &ResumeContext{
		ResumeID:       fmt.Sprintf("resume-%s", uuid.New().String()[:8]),
		StepIndex:      stepIndex,
		ActionName:     actionName,
		Strategy:       strategy,
		Meta:           meta,
		CreatedAt:      time.Now(),
		action:         action,
		originalArgs:   append([]any(nil), args...),
		originalKwargs: copyKwargs(kwargs),
	}
	return rc, nil
}

// ApplyAnswer merges the operator's answer into the original arguments
// according to the resume strategy and returns the modified snapshots.
// It may be called exactly once per suspension.
func (rc *ResumeContext) ApplyAnswer(answer any, extra map[string]any) ([]any, map[string]any, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.applied {
		return nil, nil, fmt.Errorf("resume %s: %w", rc.ResumeID, ErrAnswerAlreadyApplied)
	}

	args := append([]any(nil), rc.originalArgs...)
	kwargs := copyKwargs(rc.originalKwargs)

	switch rc.Strategy {
	case StrategyReplaceParam:
		if _, ok := kwargs["text"]; ok {
			kwargs["text"] = answer
		} else if _, ok := kwargs["value"]; ok {
			kwargs["value"] = answer
		} else if len(args) > 0 {
			args[0] = answer
		}

	case StrategyConfirmCancel:
		kwargs[confirmedKey] = parseConfirmation(answer)

	case StrategyParameterFill:
		name, _ := rc.Meta["param_name"].(string)
		if name == "" {
			name = "user_input"
		}
		kwargs[name] = answer

	case StrategyElementSelection:
		kwargs["selected_element"] = answer
	}

	// Transport-layer side-channel metadata merges last, with no
	// strategy-specific branch.
	for k, v := range extra {
		kwargs[k] = v
	}

	rc.applied = true
	rc.modifiedArgs = args
	rc.modifiedKwargs = kwargs
	return args, kwargs, nil
}

// Applied reports whether an answer has been applied.
func (rc *ResumeContext) Applied() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.applied
}

// ModifiedArgs returns the post-answer argument snapshots, or nils if no
// answer has been applied yet.
func (rc *ResumeContext) ModifiedArgs() ([]any, map[string]any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.modifiedArgs, rc.modifiedKwargs
}

// Execute invokes the captured action with the modified arguments.
// ApplyAnswer must have run first. For confirm-or-cancel suspensions a
// negative decision yields ErrUserCancelled and the action is never
// invoked.
func (rc *ResumeContext) Execute(ctx context.Context) (any, error) {
	rc.mu.Lock()
	if !rc.applied {
		rc.mu.Unlock()
		return nil, fmt.Errorf("resume %s: %w", rc.ResumeID, ErrAnswerNotApplied)
	}
	args := rc.modifiedArgs
	kwargs := copyKwargs(rc.modifiedKwargs)
	rc.mu.Unlock()

	if rc.Strategy == StrategyConfirmCancel {
		confirmed, _ := kwargs[confirmedKey].(bool)
		if !confirmed {
			return nil, fmt.Errorf("action %q: %w", rc.ActionName, ErrUserCancelled)
		}
		// The marker never reaches the actual action.
		delete(kwargs, confirmedKey)
	}

	return rc.action(ctx, args, kwargs)
}

// Summary returns a diagnostic snapshot of the suspension.
func (rc *ResumeContext) Summary() map[string]any {
	rc.mu.Lock()
	applied := rc.applied
	rc.mu.Unlock()

	return map[string]any{
		"resume_id":          rc.ResumeID,
		"step_index":         rc.StepIndex,
		"action_name":        rc.ActionName,
		"strategy":           string(rc.Strategy),
		"has_applied_answer": applied,
		"created_at":         rc.CreatedAt,
		"age_seconds":        time.Since(rc.CreatedAt).Seconds(),
	}
}

// parseConfirmation maps a free-form answer onto confirmed/cancelled.
func parseConfirmation(answer any) bool {
	if b, ok := answer.(bool); ok {
		return b
	}

	text := strings.ToLower(strings.TrimSpace(fmt.Sprint(answer)))
	for _, kw := range negativeKeywords {
		if matchKeyword(text, kw) {
			return false
		}
	}
	for _, kw := range positiveKeywords {
		if matchKeyword(text, kw) {
			return true
		}
	}
	return false
}

// matchKeyword matches multi-character keywords as substrings (so "not
// agreed" hits "no") but single ASCII letters and digits only as the whole
// answer, otherwise "y" would match inside words like "maybe".
func matchKeyword(text, keyword string) bool {
	if len(keyword) == 1 {
		return text == keyword
	}
	return strings.Contains(text, keyword)
}

func copyKwargs(kwargs map[string]any) map[string]any {
	out := make(map[string]any, len(kwargs))
	for k, v := range kwargs {
		out[k] = v
	}
	return out
}
