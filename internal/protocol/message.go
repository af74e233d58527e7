package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// NewMessage builds a success envelope with the given data payload.
func NewMessage(msgType MessageType, data any) (*Envelope, error) {
	env := &Envelope{
		Version:   ProtocolVersion,
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Status:    "success",
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s data: %w", msgType, err)
		}
		env.Data = raw
	}
	return env, nil
}

// NewErrorMessage builds an error envelope, echoing the request id of the
// message that caused it.
func NewErrorMessage(msgType MessageType, requestID, errMsg string) *Envelope {
	return &Envelope{
		Version:   ProtocolVersion,
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Status:    "error",
		RequestID: requestID,
		Error:     errMsg,
	}
}

// NewServerReady builds the greeting sent when an operator connects.
func NewServerReady() *Envelope {
	env, _ := NewMessage(MessageTypeServerReady, nil)
	return env
}

// NewHeartbeatAck acknowledges a heartbeat, echoing its request id.
func NewHeartbeatAck(requestID string) *Envelope {
	env, _ := NewMessage(MessageTypeHeartbeatAck, nil)
	env.RequestID = requestID
	return env
}

// NewUserQuestion validates and wraps a question payload.
func NewUserQuestion(q *UserQuestion) (*Envelope, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("invalid user_question: %w", err)
	}
	return NewMessage(MessageTypeUserQuestion, q)
}

// NewUserAnswer validates and wraps an answer payload.
func NewUserAnswer(a *UserAnswer) (*Envelope, error) {
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("invalid user_answer: %w", err)
	}
	return NewMessage(MessageTypeUserAnswer, a)
}

// DecodeData unmarshals the envelope's data payload into v.
func (e *Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s envelope has no data", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s data: %w", e.Type, err)
	}
	return nil
}
