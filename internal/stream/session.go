// Package stream turns a sequence of binary audio frames into incremental
// transcription messages. A Session buffers frames until a size threshold is
// crossed, hands the buffer to the engine and emits a partial message, then
// flushes whatever remains into a final message when the client closes.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ranjbar-amirabbas/PYTS/internal/backend"
	"github.com/ranjbar-amirabbas/PYTS/internal/model"
)

var (
	// ErrBufferOverflow is returned when buffered audio exceeds the maximum
	// size. It is fatal to the session.
	ErrBufferOverflow = errors.New("stream buffer overflow")

	// ErrSessionClosed is returned when a closed session is used.
	ErrSessionClosed = errors.New("stream session closed")

	// ErrInvalidSizes is returned by NewSession for inconsistent limits.
	ErrInvalidSizes = errors.New("invalid stream buffer sizes")
)

// State is the lifecycle state of a session.
type State int

// Session states.
const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is the buffering state machine for one streaming connection.
// A session is owned by a single goroutine and is not safe for concurrent use.
type Session struct {
	id        string
	engine    backend.Engine
	minChunk  int
	maxBuffer int
	logger    *slog.Logger

	buf   []byte
	state State
}

// NewSession creates an open session. minChunk and maxBuffer must be positive
// and minChunk must not exceed maxBuffer.
func NewSession(eng backend.Engine, minChunk, maxBuffer int, logger *slog.Logger) (*Session, error) {
	if minChunk <= 0 || maxBuffer <= 0 || minChunk > maxBuffer {
		return nil, fmt.Errorf("%w: min_chunk=%d max_buffer=%d", ErrInvalidSizes, minChunk, maxBuffer)
	}
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	sessionsActive.Inc()
	return &Session{
		id:        id,
		engine:    eng,
		minChunk:  minChunk,
		maxBuffer: maxBuffer,
		logger:    logger.With("component", "stream", "session_id", id),
		buf:       make([]byte, 0, minChunk),
		state:     StateOpen,
	}, nil
}

// ID returns the session identifier used for log correlation.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// Buffered returns the number of bytes waiting for transcription.
func (s *Session) Buffered() int { return len(s.buf) }

// Feed appends an audio frame and, once the buffer reaches the minimum chunk
// size, transcribes it. It returns the message to send, or nil when the frame
// was only buffered.
//
// An engine failure yields an error message and a nil error; the buffer is
// kept so the next frame retries with more context. Overflow and
// unrecoverable engine failures close the session and are returned as errors
// alongside the error message.
func (s *Session) Feed(ctx context.Context, frame []byte) (*model.Message, error) {
	if s.state != StateOpen {
		return nil, ErrSessionClosed
	}
	if len(frame) == 0 {
		return nil, nil
	}

	if len(s.buf)+len(frame) > s.maxBuffer {
		size := len(s.buf) + len(frame)
		s.logger.Warn("stream buffer overflow", "buffered", size, "max_buffer", s.maxBuffer)
		overflowsTotal.Inc()
		s.finish()
		msg := s.message(model.MessageError, fmt.Sprintf("buffer overflow: %d bytes exceeds limit of %d bytes", size, s.maxBuffer))
		return &msg, ErrBufferOverflow
	}
	s.buf = append(s.buf, frame...)

	if len(s.buf) < s.minChunk {
		return nil, nil
	}

	chunkBytes.Observe(float64(len(s.buf)))
	text, err := s.transcribe(ctx)
	if err != nil {
		msg := s.message(model.MessageError, err.Error())
		if errors.Is(err, backend.ErrUnrecoverable) {
			s.logger.Error("engine failed, closing stream", "error", err)
			s.finish()
			return &msg, err
		}
		s.logger.Warn("chunk transcription failed, keeping buffer", "error", err, "buffered", len(s.buf))
		return &msg, nil
	}

	s.logger.Debug("chunk transcribed", "bytes", len(s.buf), "chars", len(text))
	s.buf = s.buf[:0]
	msg := s.message(model.MessagePartial, text)
	return &msg, nil
}

// Close flushes the remaining buffer and returns the final message. Exactly
// one final message is produced per session: if the flush fails, the final
// carries empty text and the engine error is returned so the caller can emit
// an error message first.
func (s *Session) Close(ctx context.Context) (model.Message, error) {
	if s.state != StateOpen {
		return model.Message{}, ErrSessionClosed
	}
	s.state = StateClosing

	var (
		text     string
		flushErr error
	)
	if len(s.buf) > 0 {
		chunkBytes.Observe(float64(len(s.buf)))
		text, flushErr = s.transcribe(ctx)
		if flushErr != nil {
			s.logger.Warn("final flush failed", "error", flushErr, "buffered", len(s.buf))
			messagesTotal.WithLabelValues(model.MessageError).Inc()
			text = ""
		}
	}

	s.finish()
	s.logger.Debug("stream closed")
	return s.message(model.MessageFinal, text), flushErr
}

// Abort closes the session without flushing, for connections that went away.
func (s *Session) Abort() {
	if s.state == StateClosed {
		return
	}
	s.finish()
	s.logger.Debug("stream aborted")
}

// transcribe runs the engine on the buffer. A panic in the engine is
// reported as an unrecoverable error so the session closes cleanly.
func (s *Session) transcribe(ctx context.Context) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: internal error: %v", backend.ErrUnrecoverable, r)
		}
	}()
	return s.engine.TranscribeChunk(ctx, s.buf)
}

func (s *Session) finish() {
	s.buf = nil
	if s.state != StateClosed {
		s.state = StateClosed
		sessionsActive.Dec()
	}
}

func (s *Session) message(typ, text string) model.Message {
	messagesTotal.WithLabelValues(typ).Inc()
	return model.NewMessage(typ, text)
}
