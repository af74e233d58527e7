// Package gateway adapts the interaction core to the operator transport:
// it translates outbound questions into protocol envelopes and routes
// inbound answers back into the interaction manager.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/taskrelay/taskrelay/internal/interaction"
	"github.com/taskrelay/taskrelay/internal/ndjson"
	"github.com/taskrelay/taskrelay/internal/protocol"
)

// ErrNoOperator is returned when a question is sent with no operator
// connected. The question stays pending; its timeout still resolves it.
var ErrNoOperator = errors.New("no operator connection")

// TaskSummarizer answers task_status requests. LifecycleManager satisfies
// it.
type TaskSummarizer interface {
	TaskSummary(taskID string) map[string]any
	AllTaskSummaries() map[string]map[string]any
}

// pendingInfo is the gateway's own record of a question in flight, used
// for diagnostics and age-based sweeping.
type pendingInfo struct {
	questionID string
	text       string
	kind       protocol.QuestionType
	createdAt  time.Time
}

// Gateway owns the operator socket: a TCP listener accepting one operator
// connection at a time, NDJSON envelopes in both directions.
type Gateway struct {
	logger  *slog.Logger
	manager *interaction.InteractionManager

	mu        sync.Mutex
	listener  net.Listener
	conn      net.Conn
	encoder   *ndjson.Encoder
	pending   map[string]pendingInfo
	summaries TaskSummarizer
	closed    bool

	// writeMu serializes envelope writes; the ask path and the reply path
	// send concurrently.
	writeMu sync.Mutex
}

// New creates a gateway routing answers into the given manager.
func New(manager *interaction.InteractionManager, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		logger:  logger,
		manager: manager,
		pending: make(map[string]pendingInfo),
	}
}

// SetTaskSummarizer enables task_status replies.
func (g *Gateway) SetTaskSummarizer(s TaskSummarizer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.summaries = s
}

// Listen binds the operator socket.
func (g *Gateway) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway listen on %s: %w", addr, err)
	}

	g.mu.Lock()
	g.listener = ln
	g.mu.Unlock()

	g.logger.Info("gateway listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound listener address, or "" before Listen.
func (g *Gateway) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

// Serve accepts operator connections until the context is done or the
// listener closes. One operator connection is serviced at a time; a new
// connection replaces a dead one.
func (g *Gateway) Serve(ctx context.Context) error {
	g.mu.Lock()
	ln := g.listener
	g.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("gateway: Serve called before Listen")
	}

	go func() {
		<-ctx.Done()
		g.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			g.mu.Lock()
			closed := g.closed
			g.mu.Unlock()
			if closed || ctx.Err() != nil {
				return nil
			}
			g.logger.Error("accept failed", "error", err)
			continue
		}

		g.logger.Info("operator connected", "remote", conn.RemoteAddr().String())
		g.handleConn(ctx, conn)
	}
}

// HandleConn services a single already-established operator connection.
// Exposed for transports other than the TCP listener (e.g. tests over
// net.Pipe).
func (g *Gateway) HandleConn(ctx context.Context, conn net.Conn) {
	g.handleConn(ctx, conn)
}

func (g *Gateway) handleConn(ctx context.Context, conn net.Conn) {
	encoder := ndjson.NewEncoder(conn, g.logger)
	decoder := ndjson.NewDecoder(conn, g.logger)

	g.mu.Lock()
	if g.conn != nil {
		g.conn.Close()
	}
	g.conn = conn
	g.encoder = encoder
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		if g.conn == conn {
			g.conn = nil
			g.encoder = nil
		}
		g.mu.Unlock()
		conn.Close()
		g.logger.Info("operator disconnected")
	}()

	if err := g.send(protocol.NewServerReady()); err != nil {
		g.logger.Error("failed to send server_ready", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		env, err := decoder.Decode()
		if err == io.EOF {
			return
		}
		if errors.Is(err, ndjson.ErrMalformed) {
			g.logger.Warn("malformed envelope", "error", err)
			g.reply(protocol.NewErrorMessage(protocol.MessageTypeInvalidMessage, "", err.Error()))
			continue
		}
		if err != nil {
			g.logger.Error("operator stream error", "error", err)
			return
		}

		g.route(env)
	}
}

// route dispatches one inbound envelope.
func (g *Gateway) route(env *protocol.Envelope) {
	switch env.Type {
	case protocol.MessageTypeUserAnswer:
		g.handleAnswer(env)

	case protocol.MessageTypeHeartbeat:
		g.reply(protocol.NewHeartbeatAck(env.RequestID))

	case protocol.MessageTypeClientConnected:
		g.logger.Info("operator client registered", "device_id", env.DeviceID)

	case protocol.MessageTypeTaskStatus:
		g.handleTaskStatus(env)

	default:
		g.logger.Warn("unexpected message type", "type", env.Type)
		g.reply(protocol.NewErrorMessage(protocol.MessageTypeInvalidMessage, env.RequestID,
			fmt.Sprintf("unsupported message type %q", env.Type)))
	}
}

// handleAnswer validates an inbound answer and routes it to the manager.
// Malformed answers are rejected before routing.
func (g *Gateway) handleAnswer(env *protocol.Envelope) {
	var answer protocol.UserAnswer
	if err := env.DecodeData(&answer); err != nil {
		g.reply(protocol.NewErrorMessage(protocol.MessageTypeError, env.RequestID, err.Error()))
		return
	}
	if err := answer.Validate(); err != nil {
		g.logger.Warn("rejected invalid answer", "error", err)
		g.reply(protocol.NewErrorMessage(protocol.MessageTypeError, env.RequestID, err.Error()))
		return
	}

	if !g.manager.ProvideAnswer(answer.QuestionID, answer.Answer, answer.AdditionalData) {
		g.reply(protocol.NewErrorMessage(protocol.MessageTypeError, env.RequestID,
			fmt.Sprintf("question %q not found or already answered", answer.QuestionID)))
		return
	}

	g.mu.Lock()
	delete(g.pending, answer.QuestionID)
	g.mu.Unlock()

	ack, err := protocol.NewMessage(protocol.MessageTypeUserAnswer, map[string]any{
		"question_id": answer.QuestionID,
	})
	if err == nil {
		ack.RequestID = env.RequestID
		g.reply(ack)
	}
}

func (g *Gateway) handleTaskStatus(env *protocol.Envelope) {
	g.mu.Lock()
	summaries := g.summaries
	g.mu.Unlock()

	if summaries == nil {
		g.reply(protocol.NewErrorMessage(protocol.MessageTypeError, env.RequestID, "task status unavailable"))
		return
	}

	var req protocol.TaskStatusRequest
	if len(env.Data) > 0 {
		if err := env.DecodeData(&req); err != nil {
			g.reply(protocol.NewErrorMessage(protocol.MessageTypeError, env.RequestID, err.Error()))
			return
		}
	}

	var payload any
	if req.TaskID != "" {
		payload = summaries.TaskSummary(req.TaskID)
	} else {
		payload = summaries.AllTaskSummaries()
	}

	resp, err := protocol.NewMessage(protocol.MessageTypeTaskStatus, payload)
	if err != nil {
		g.reply(protocol.NewErrorMessage(protocol.MessageTypeError, env.RequestID, err.Error()))
		return
	}
	resp.RequestID = env.RequestID
	g.reply(resp)
}

// SendQuestion validates and ships a question to the connected operator.
// Installed on the interaction manager as its SendQuestionFunc.
func (g *Gateway) SendQuestion(q *protocol.UserQuestion) error {
	env, err := protocol.NewUserQuestion(q)
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.pending[q.QuestionID] = pendingInfo{
		questionID: q.QuestionID,
		text:       q.QuestionText,
		kind:       q.QuestionType,
		createdAt:  time.Now(),
	}
	g.mu.Unlock()

	if err := g.send(env); err != nil {
		return err
	}

	g.logger.Info("question sent to operator", "question_id", q.QuestionID, "kind", q.QuestionType)
	return nil
}

// PendingQuestionIDs lists questions the gateway has sent and not yet seen
// answered.
func (g *Gateway) PendingQuestionIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids := make([]string, 0, len(g.pending))
	for id := range g.pending {
		ids = append(ids, id)
	}
	return ids
}

// CleanupOldQuestions drops gateway bookkeeping for questions older than
// maxAge and returns how many were swept. The interaction manager's own
// timeout path already resolved them.
func (g *Gateway) CleanupOldQuestions(maxAge time.Duration) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	var swept int
	for id, info := range g.pending {
		if time.Since(info.createdAt) > maxAge {
			delete(g.pending, id)
			swept++
			g.logger.Debug("swept stale question record", "question_id", id)
		}
	}
	return swept
}

// Close shuts the listener and any live operator connection.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return
	}
	g.closed = true
	if g.listener != nil {
		g.listener.Close()
	}
	if g.conn != nil {
		g.conn.Close()
	}
}

// reply sends an envelope to the current operator, logging failures.
func (g *Gateway) reply(env *protocol.Envelope) {
	if err := g.send(env); err != nil {
		g.logger.Error("failed to send reply", "type", env.Type, "error", err)
	}
}

func (g *Gateway) send(env *protocol.Envelope) error {
	g.mu.Lock()
	encoder := g.encoder
	g.mu.Unlock()

	if encoder == nil {
		return ErrNoOperator
	}

	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	return encoder.Encode(env)
}
