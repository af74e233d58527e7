package gateway

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskrelay/taskrelay/internal/interaction"
	"github.com/taskrelay/taskrelay/internal/ndjson"
	"github.com/taskrelay/taskrelay/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// operatorConn is the remote end of a gateway connection over net.Pipe.
type operatorConn struct {
	conn net.Conn
	enc  *ndjson.Encoder
	dec  *ndjson.Decoder
}

// expect reads envelopes until one of type want arrives, failing on
// anything unexpected in between except the ones listed in skip.
func (o *operatorConn) expect(t *testing.T, want protocol.MessageType, skip ...protocol.MessageType) *protocol.Envelope {
	t.Helper()
	for {
		env, err := o.dec.Decode()
		require.NoError(t, err)
		if env.Type == want {
			return env
		}
		skipped := false
		for _, s := range skip {
			if env.Type == s {
				skipped = true
				break
			}
		}
		require.True(t, skipped, "unexpected message type %q while waiting for %q", env.Type, want)
	}
}

// newTestGateway wires a gateway to an in-memory operator connection and
// consumes the server_ready greeting.
func newTestGateway(t *testing.T) (*Gateway, *interaction.InteractionManager, *operatorConn) {
	t.Helper()

	manager := interaction.NewInteractionManager(testLogger())
	t.Cleanup(manager.Shutdown)

	gw := New(manager, testLogger())
	manager.SetSendFunc(gw.SendQuestion)

	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	done := make(chan struct{})
	go func() {
		defer close(done)
		gw.HandleConn(ctx, server)
	}()
	t.Cleanup(func() {
		client.Close()
		<-done
	})

	op := &operatorConn{
		conn: client,
		enc:  ndjson.NewEncoder(client, testLogger()),
		dec:  ndjson.NewDecoder(client, testLogger()),
	}
	op.expect(t, protocol.MessageTypeServerReady)
	return gw, manager, op
}

func startTask(t *testing.T, manager *interaction.InteractionManager, taskID string) {
	t.Helper()
	task := interaction.NewTaskExecutionContext(taskID, "test goal", "", testLogger())
	task.SetState(interaction.StateRunning, "test start")
	manager.RegisterTask(task)
}

func TestQuestionAnswerRoundTrip(t *testing.T) {
	gw, manager, op := newTestGateway(t)
	startTask(t, manager, "t-1")

	idCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		id, err := manager.AskAsync(interaction.AskRequest{
			TaskID:  "t-1",
			Text:    "What departure date?",
			Timeout: time.Minute,
		})
		idCh <- id
		errCh <- err
	}()

	env := op.expect(t, protocol.MessageTypeUserQuestion)
	var q protocol.UserQuestion
	require.NoError(t, env.DecodeData(&q))
	require.Equal(t, "What departure date?", q.QuestionText)
	require.Equal(t, protocol.QuestionTypeText, q.QuestionType)
	require.Equal(t, float64(60), q.TimeoutSeconds)

	questionID := <-idCh
	require.NoError(t, <-errCh)
	require.Equal(t, questionID, q.QuestionID)
	require.Contains(t, gw.PendingQuestionIDs(), questionID)

	future := manager.Question(questionID).Future

	reply, err := protocol.NewUserAnswer(&protocol.UserAnswer{
		QuestionID: questionID,
		Answer:     "2025-11-15",
	})
	require.NoError(t, err)
	reply.RequestID = "req-1"

	ackCh := make(chan *protocol.Envelope, 1)
	go func() {
		ackCh <- op.expect(t, protocol.MessageTypeUserAnswer)
	}()
	require.NoError(t, op.enc.Encode(reply))

	v, err := future.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "2025-11-15", v)

	ack := <-ackCh
	require.Equal(t, "req-1", ack.RequestID)
	require.Equal(t, "success", ack.Status)

	require.Eventually(t, func() bool {
		return len(gw.PendingQuestionIDs()) == 0
	}, time.Second, 5*time.Millisecond, "ack clears the gateway's pending record")
}

func TestHeartbeatAck(t *testing.T) {
	_, _, op := newTestGateway(t)

	hb, err := protocol.NewMessage(protocol.MessageTypeHeartbeat, nil)
	require.NoError(t, err)
	hb.RequestID = "hb-42"

	ackCh := make(chan *protocol.Envelope, 1)
	go func() {
		ackCh <- op.expect(t, protocol.MessageTypeHeartbeatAck)
	}()
	require.NoError(t, op.enc.Encode(hb))

	ack := <-ackCh
	require.Equal(t, "hb-42", ack.RequestID)
}

func TestInvalidAnswerRejected(t *testing.T) {
	_, _, op := newTestGateway(t)

	// An answer without a question id never reaches the manager.
	env, err := protocol.NewMessage(protocol.MessageTypeUserAnswer, map[string]any{
		"answer": "orphaned",
	})
	require.NoError(t, err)
	env.RequestID = "req-bad"

	errCh := make(chan *protocol.Envelope, 1)
	go func() {
		errCh <- op.expect(t, protocol.MessageTypeError)
	}()
	require.NoError(t, op.enc.Encode(env))

	reply := <-errCh
	require.Equal(t, "req-bad", reply.RequestID)
	require.Equal(t, "error", reply.Status)
	require.NotEmpty(t, reply.Error)
}

func TestAnswerForUnknownQuestion(t *testing.T) {
	_, _, op := newTestGateway(t)

	env, err := protocol.NewUserAnswer(&protocol.UserAnswer{
		QuestionID: "q-ghost",
		Answer:     "late",
	})
	require.NoError(t, err)

	errCh := make(chan *protocol.Envelope, 1)
	go func() {
		errCh <- op.expect(t, protocol.MessageTypeError)
	}()
	require.NoError(t, op.enc.Encode(env))

	reply := <-errCh
	require.Contains(t, reply.Error, "q-ghost")
}

func TestUnsupportedMessageType(t *testing.T) {
	_, _, op := newTestGateway(t)

	env, err := protocol.NewMessage(protocol.MessageType("telepathy"), nil)
	require.NoError(t, err)

	replyCh := make(chan *protocol.Envelope, 1)
	go func() {
		replyCh <- op.expect(t, protocol.MessageTypeInvalidMessage)
	}()
	require.NoError(t, op.enc.Encode(env))

	reply := <-replyCh
	require.Contains(t, reply.Error, "telepathy")
}

func TestMalformedLineKeepsConnectionAlive(t *testing.T) {
	_, _, op := newTestGateway(t)

	replyCh := make(chan *protocol.Envelope, 1)
	go func() {
		replyCh <- op.expect(t, protocol.MessageTypeInvalidMessage)
	}()
	_, err := op.conn.Write([]byte("{not json}\n"))
	require.NoError(t, err)

	reply := <-replyCh
	require.Equal(t, "error", reply.Status)

	// The connection survives the bad line.
	hb, err := protocol.NewMessage(protocol.MessageTypeHeartbeat, nil)
	require.NoError(t, err)
	hb.RequestID = "hb-after"

	ackCh := make(chan *protocol.Envelope, 1)
	go func() {
		ackCh <- op.expect(t, protocol.MessageTypeHeartbeatAck)
	}()
	require.NoError(t, op.enc.Encode(hb))
	require.Equal(t, "hb-after", (<-ackCh).RequestID)
}

type stubSummarizer struct {
	byID map[string]map[string]any
}

func (s *stubSummarizer) TaskSummary(taskID string) map[string]any {
	return s.byID[taskID]
}

func (s *stubSummarizer) AllTaskSummaries() map[string]map[string]any {
	return s.byID
}

func TestTaskStatusRequest(t *testing.T) {
	gw, _, op := newTestGateway(t)
	gw.SetTaskSummarizer(&stubSummarizer{byID: map[string]map[string]any{
		"t-1": {"state": "running"},
	}})

	env, err := protocol.NewMessage(protocol.MessageTypeTaskStatus,
		&protocol.TaskStatusRequest{TaskID: "t-1"})
	require.NoError(t, err)
	env.RequestID = "req-status"

	replyCh := make(chan *protocol.Envelope, 1)
	go func() {
		replyCh <- op.expect(t, protocol.MessageTypeTaskStatus)
	}()
	require.NoError(t, op.enc.Encode(env))

	reply := <-replyCh
	require.Equal(t, "req-status", reply.RequestID)

	var summary map[string]any
	require.NoError(t, reply.DecodeData(&summary))
	require.Equal(t, "running", summary["state"])
}

func TestSendQuestionWithoutOperator(t *testing.T) {
	manager := interaction.NewInteractionManager(testLogger())
	t.Cleanup(manager.Shutdown)
	gw := New(manager, testLogger())

	err := gw.SendQuestion(&protocol.UserQuestion{
		QuestionID:     "q-1",
		QuestionText:   "Anyone there?",
		QuestionType:   protocol.QuestionTypeText,
		TimeoutSeconds: 30,
	})
	require.ErrorIs(t, err, ErrNoOperator)

	// The question stays recorded; the operator may connect before it
	// times out.
	require.Contains(t, gw.PendingQuestionIDs(), "q-1")
}

func TestSendQuestionValidates(t *testing.T) {
	gw, _, _ := newTestGateway(t)

	err := gw.SendQuestion(&protocol.UserQuestion{QuestionText: "no id"})
	require.Error(t, err)
	require.Empty(t, gw.PendingQuestionIDs())
}

func TestCleanupOldQuestions(t *testing.T) {
	manager := interaction.NewInteractionManager(testLogger())
	t.Cleanup(manager.Shutdown)
	gw := New(manager, testLogger())

	_ = gw.SendQuestion(&protocol.UserQuestion{
		QuestionID:     "q-old",
		QuestionText:   "stale",
		QuestionType:   protocol.QuestionTypeText,
		TimeoutSeconds: 30,
	})
	require.Len(t, gw.PendingQuestionIDs(), 1)

	require.Equal(t, 0, gw.CleanupOldQuestions(time.Minute))
	require.Equal(t, 1, gw.CleanupOldQuestions(0))
	require.Empty(t, gw.PendingQuestionIDs())
}
