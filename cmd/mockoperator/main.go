// mockoperator is a scripted operator client for exercising the taskrelay
// gateway end to end: it connects, answers questions from a script (or
// echoes a default), and keeps a heartbeat going.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/taskrelay/taskrelay/internal/ndjson"
	"github.com/taskrelay/taskrelay/internal/protocol"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8765", "Gateway address to connect to")
	deviceID := flag.String("device-id", "", "Device ID (auto-generated if not provided)")
	scriptFile := flag.String("script", "", "Path to answer script file (JSON map of question text to answer)")
	defaultAnswer := flag.String("default-answer", "", "Answer for unscripted questions (question's default when empty)")
	answerDelay := flag.Duration("answer-delay", 0, "Artificial delay before answering")
	heartbeatInterval := flag.Duration("heartbeat-interval", 10*time.Second, "Heartbeat interval")
	disableHeartbeat := flag.Bool("no-heartbeat", false, "Disable automatic heartbeats")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if *deviceID == "" {
		*deviceID = fmt.Sprintf("mockop#%s", uuid.New().String()[:8])
	}

	op := &MockOperator{
		addr:              *addr,
		deviceID:          *deviceID,
		defaultAnswer:     *defaultAnswer,
		answerDelay:       *answerDelay,
		heartbeatInterval: *heartbeatInterval,
		disableHeartbeat:  *disableHeartbeat,
		logger:            logger,
	}

	if *scriptFile != "" {
		if err := op.loadScript(*scriptFile); err != nil {
			logger.Error("failed to load script", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal", "signal", sig)
		cancel()
	}()

	if err := op.Run(ctx); err != nil {
		logger.Error("operator failed", "error", err)
		os.Exit(1)
	}

	logger.Info("mock operator stopped")
}

// MockOperator simulates a remote operator for testing
type MockOperator struct {
	addr              string
	deviceID          string
	defaultAnswer     string
	answerDelay       time.Duration
	heartbeatInterval time.Duration
	disableHeartbeat  bool
	logger            *slog.Logger

	// answers maps question text to the scripted answer.
	answers map[string]any

	// sendMu serializes writes; the heartbeat loop and the answer path
	// share the encoder.
	sendMu  sync.Mutex
	encoder *ndjson.Encoder
}

func (op *MockOperator) send(env *protocol.Envelope) error {
	op.sendMu.Lock()
	defer op.sendMu.Unlock()
	return op.encoder.Encode(env)
}

func (op *MockOperator) loadScript(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read script %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &op.answers); err != nil {
		return fmt.Errorf("parse script %s: %w", path, err)
	}
	op.logger.Info("loaded answer script", "entries", len(op.answers))
	return nil
}

// Run connects to the gateway and services messages until the context is
// done or the connection drops.
func (op *MockOperator) Run(ctx context.Context) error {
	conn, err := net.Dial("tcp", op.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", op.addr, err)
	}
	defer conn.Close()

	op.logger.Info("connected", "addr", op.addr, "device_id", op.deviceID)

	op.encoder = ndjson.NewEncoder(conn, op.logger)
	decoder := ndjson.NewDecoder(conn, op.logger)

	hello, err := protocol.NewMessage(protocol.MessageTypeClientConnected, nil)
	if err != nil {
		return err
	}
	hello.DeviceID = op.deviceID
	if err := op.send(hello); err != nil {
		return fmt.Errorf("send client_connected: %w", err)
	}

	if !op.disableHeartbeat {
		go op.heartbeatLoop(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		env, err := decoder.Decode()
		if err == io.EOF {
			op.logger.Info("gateway closed connection")
			return nil
		}
		if err != nil {
			return fmt.Errorf("decode: %w", err)
		}

		switch env.Type {
		case protocol.MessageTypeServerReady:
			op.logger.Info("server ready")

		case protocol.MessageTypeUserQuestion:
			if err := op.handleQuestion(ctx, env); err != nil {
				op.logger.Error("failed to answer question", "error", err)
			}

		case protocol.MessageTypeHeartbeatAck:
			op.logger.Debug("heartbeat acked", "request_id", env.RequestID)

		case protocol.MessageTypeError, protocol.MessageTypeInvalidMessage:
			op.logger.Warn("gateway error", "type", env.Type, "error", env.Error)

		default:
			op.logger.Info("message received", "type", env.Type)
		}
	}
}

func (op *MockOperator) handleQuestion(ctx context.Context, env *protocol.Envelope) error {
	var q protocol.UserQuestion
	if err := env.DecodeData(&q); err != nil {
		return err
	}

	op.logger.Info("question received",
		"question_id", q.QuestionID,
		"kind", q.QuestionType,
		"text", q.QuestionText)

	if op.answerDelay > 0 {
		select {
		case <-time.After(op.answerDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	answer := op.pickAnswer(&q)
	reply, err := protocol.NewUserAnswer(&protocol.UserAnswer{
		QuestionID: q.QuestionID,
		Answer:     answer,
	})
	if err != nil {
		return err
	}
	reply.DeviceID = op.deviceID

	if err := op.send(reply); err != nil {
		return err
	}

	op.logger.Info("answered", "question_id", q.QuestionID, "answer", answer)
	return nil
}

// pickAnswer prefers the script, then the -default-answer flag, then the
// question's own default, then a kind-appropriate fallback.
func (op *MockOperator) pickAnswer(q *protocol.UserQuestion) any {
	if a, ok := op.answers[q.QuestionText]; ok {
		return a
	}
	if op.defaultAnswer != "" {
		return op.defaultAnswer
	}
	if q.DefaultValue != nil {
		return q.DefaultValue
	}

	switch q.QuestionType {
	case protocol.QuestionTypeConfirm:
		return "yes"
	case protocol.QuestionTypeChoice:
		if len(q.Options) > 0 {
			return q.Options[0]
		}
		return 0
	default:
		return "ok"
	}
}

func (op *MockOperator) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(op.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hb, err := protocol.NewMessage(protocol.MessageTypeHeartbeat, nil)
			if err != nil {
				continue
			}
			hb.RequestID = fmt.Sprintf("hb-%s", uuid.New().String()[:8])
			hb.DeviceID = op.deviceID
			if err := op.send(hb); err != nil {
				op.logger.Warn("heartbeat send failed", "error", err)
				return
			}
		}
	}
}
