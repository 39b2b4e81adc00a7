package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ranjbar-amirabbas/PYTS/internal/model"
	"github.com/ranjbar-amirabbas/PYTS/internal/stream"
)

// wsWriteWait bounds each message and control frame written to a stream client.
const wsWriteWait = 10 * time.Second

// handleStream upgrades to WebSocket and runs one streaming session. Binary
// frames carry audio; the client's close frame asks for the final message.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	eng, err := s.registry.Resolve(s.opts.Engine)
	if err != nil {
		s.logger.Error("resolve stream engine", "engine", s.opts.Engine, "error", err)
		s.writeError(w, http.StatusServiceUnavailable, codeServiceUnavailable, "transcription engine unavailable", nil)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an HTTP error response.
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sess, err := stream.NewSession(eng, s.opts.MinChunkSize, s.opts.MaxBufferSize, s.logger)
	if err != nil {
		s.logger.Error("create stream session", "error", err)
		_ = writeStreamMessage(conn, model.NewMessage(model.MessageError, "service unavailable"))
		closeStream(conn, websocket.CloseInternalServerErr, "service unavailable")
		return
	}
	logger := s.logger.With("session_id", sess.ID())
	logger.Info("stream opened", "remote_addr", r.RemoteAddr)

	// A frame one byte over the buffer limit still reaches the session so the
	// client gets an overflow message; anything larger fails in the reader.
	conn.SetReadLimit(int64(s.opts.MaxBufferSize) + 1)

	// Keep the connection open after the client's close frame; the final
	// message and our close frame are sent by finishStream.
	conn.SetCloseHandler(func(int, string) error { return nil })

	ctx := r.Context()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			switch {
			case errors.As(err, &closeErr):
				s.finishStream(ctx, conn, sess, logger)
			case errors.Is(err, websocket.ErrReadLimit):
				logger.Warn("stream frame exceeds read limit", "max_buffer", s.opts.MaxBufferSize)
				sess.Abort()
			default:
				logger.Info("stream connection lost", "error", err)
				sess.Abort()
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		msg, feedErr := sess.Feed(ctx, data)
		if msg != nil {
			if err := writeStreamMessage(conn, *msg); err != nil {
				logger.Info("write stream message", "error", err)
				sess.Abort()
				return
			}
		}
		if feedErr != nil {
			code := websocket.CloseInternalServerErr
			if errors.Is(feedErr, stream.ErrBufferOverflow) {
				code = websocket.CloseMessageTooBig
			}
			closeStream(conn, code, feedErr.Error())
			logger.Warn("stream terminated", "error", feedErr)
			return
		}
	}
}

// finishStream flushes the session after the client's close frame, sends the
// final message and completes the close handshake.
func (s *Server) finishStream(ctx context.Context, conn *websocket.Conn, sess *stream.Session, logger *slog.Logger) {
	final, err := sess.Close(ctx)
	if errors.Is(err, stream.ErrSessionClosed) {
		closeStream(conn, websocket.CloseNormalClosure, "")
		return
	}
	if err != nil {
		if werr := writeStreamMessage(conn, model.NewMessage(model.MessageError, err.Error())); werr != nil {
			logger.Info("write stream error message", "error", werr)
			return
		}
	}
	if err := writeStreamMessage(conn, final); err != nil {
		logger.Info("write final message", "error", err)
		return
	}
	closeStream(conn, websocket.CloseNormalClosure, "")
	logger.Info("stream closed", "final_chars", len(final.Text))
}

func writeStreamMessage(conn *websocket.Conn, msg model.Message) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

// closeStream sends a close frame. Reasons are truncated to fit the control
// frame payload limit.
func closeStream(conn *websocket.Conn, code int, reason string) {
	const maxReason = 123
	if len(reason) > maxReason {
		reason = reason[:maxReason]
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(wsWriteWait))
}
