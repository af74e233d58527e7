// Package ndjson implements the newline-delimited JSON framing used on the
// operator socket: one protocol envelope per line.
package ndjson

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/taskrelay/taskrelay/internal/protocol"
)

// MaxMessageSize is the maximum NDJSON message size (256 KiB)
const MaxMessageSize = 256 * 1024

// ErrMalformed marks decode failures caused by the line's content rather
// than the underlying stream. Callers may skip the line and keep reading.
var ErrMalformed = errors.New("malformed message")

// Encoder writes NDJSON envelopes to an output stream
type Encoder struct {
	writer *bufio.Writer
	logger *slog.Logger
}

// NewEncoder creates a new NDJSON encoder
func NewEncoder(w io.Writer, logger *slog.Logger) *Encoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Encoder{
		writer: bufio.NewWriter(w),
		logger: logger,
	}
}

// Encode writes an envelope as a single JSON line and flushes immediately
// so the operator sees it in real time.
func (e *Encoder) Encode(env *protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if len(data) > MaxMessageSize {
		e.logger.Error("message exceeds size limit",
			"size", len(data),
			"limit", MaxMessageSize,
			"type", env.Type)
		return fmt.Errorf("message size %d exceeds limit %d", len(data), MaxMessageSize)
	}

	if _, err := e.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := e.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	if err := e.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}

	return nil
}

// Decoder reads NDJSON envelopes from an input stream
type Decoder struct {
	scanner *bufio.Scanner
	logger  *slog.Logger
	lineNum int
}

// NewDecoder creates a new NDJSON decoder
func NewDecoder(r io.Reader, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	scanner := bufio.NewScanner(r)

	buf := make([]byte, MaxMessageSize)
	scanner.Buffer(buf, MaxMessageSize)

	return &Decoder{
		scanner: scanner,
		logger:  logger,
	}
}

// Decode reads the next envelope, skipping empty lines. Returns io.EOF at
// end of stream.
func (d *Decoder) Decode() (*protocol.Envelope, error) {
	for {
		if !d.scanner.Scan() {
			if err := d.scanner.Err(); err != nil {
				return nil, fmt.Errorf("scanner error at line %d: %w", d.lineNum, err)
			}
			return nil, io.EOF
		}

		d.lineNum++
		data := d.scanner.Bytes()
		if len(data) == 0 {
			continue
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			d.logger.Error("failed to unmarshal envelope",
				"line", d.lineNum,
				"error", err,
				"data", string(data[:min(100, len(data))]))
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, d.lineNum, err)
		}

		if env.Type == "" {
			return nil, fmt.Errorf("%w: line %d: missing 'type' field", ErrMalformed, d.lineNum)
		}
		return &env, nil
	}
}
