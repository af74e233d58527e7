package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ProtocolVersion is stamped into every envelope.
const ProtocolVersion = "1.0"

// MessageType identifies the envelope payload.
type MessageType string

const (
	// Connection lifecycle
	MessageTypeServerReady     MessageType = "server_ready"
	MessageTypeClientConnected MessageType = "client_connected"

	// Liveness
	MessageTypeHeartbeat    MessageType = "heartbeat"
	MessageTypeHeartbeatAck MessageType = "heartbeat_ack"

	// Operator interaction
	MessageTypeUserQuestion MessageType = "user_question"
	MessageTypeUserAnswer   MessageType = "user_answer"

	// Task observability
	MessageTypeTaskStatus MessageType = "task_status"

	// Errors
	MessageTypeError          MessageType = "error"
	MessageTypeInvalidMessage MessageType = "invalid_message"
)

// Envelope is the wire frame exchanged with the remote operator, one JSON
// object per line.
type Envelope struct {
	Version   string          `json:"version"`
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Status    string          `json:"status,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	DeviceID  string          `json:"device_id,omitempty"`
	Error     string          `json:"error,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// QuestionType classifies what kind of answer a question expects.
type QuestionType string

const (
	QuestionTypeText    QuestionType = "text"
	QuestionTypeChoice  QuestionType = "choice"
	QuestionTypeConfirm QuestionType = "confirm"
)

// Valid reports whether the question type is a known kind.
func (q QuestionType) Valid() bool {
	switch q {
	case QuestionTypeText, QuestionTypeChoice, QuestionTypeConfirm:
		return true
	}
	return false
}

// UserQuestion is the data payload of a user_question message
// (server → operator).
type UserQuestion struct {
	QuestionID     string       `json:"question_id"`
	QuestionText   string       `json:"question_text"`
	QuestionType   QuestionType `json:"question_type"`
	Options        []string     `json:"options,omitempty"`
	DefaultValue   any          `json:"default_value,omitempty"`
	TimeoutSeconds float64      `json:"timeout_seconds"`
}

// Validate rejects malformed questions before they are sent.
func (q *UserQuestion) Validate() error {
	if q.QuestionID == "" {
		return errors.New("question missing question_id")
	}
	if q.QuestionText == "" {
		return errors.New("question missing question_text")
	}
	if !q.QuestionType.Valid() {
		return fmt.Errorf("invalid question_type %q", q.QuestionType)
	}
	if q.QuestionType == QuestionTypeChoice && len(q.Options) == 0 {
		return errors.New("choice question requires options")
	}
	return nil
}

// UserAnswer is the data payload of a user_answer message
// (operator → server).
type UserAnswer struct {
	QuestionID     string         `json:"question_id"`
	Answer         any            `json:"answer"`
	AdditionalData map[string]any `json:"additional_data,omitempty"`
}

// Validate rejects malformed answers before they are routed.
func (a *UserAnswer) Validate() error {
	if a.QuestionID == "" {
		return errors.New("answer missing question_id")
	}
	if a.Answer == nil {
		return errors.New("answer missing answer value")
	}
	return nil
}

// TaskStatusRequest is the data payload of a task_status request. An empty
// task id requests summaries for all tasks.
type TaskStatusRequest struct {
	TaskID string `json:"task_id,omitempty"`
}
