package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ranjbar-amirabbas/PYTS/internal/engine"
	"github.com/ranjbar-amirabbas/PYTS/internal/model"
	"github.com/ranjbar-amirabbas/PYTS/internal/store"
)

// handleJobEvents streams a job's status transitions as Server-Sent Events.
// The first event carries the current status; the stream ends with a "done"
// event once the job is terminal.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "job_id")

	// Subscribe before reading the job so no transition falls in between.
	ch, unsub := s.manager.Broker().Subscribe(id)
	defer unsub()

	job, err := s.manager.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, codeJobNotFound, "job not found", map[string]string{"job_id": id})
		return
	}
	if err != nil {
		s.logger.Error("get job for events", "job_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, codeInternalError, "failed to get job", nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)

	current := engine.StatusEvent{
		JobID:     job.ID,
		Status:    job.Status,
		Error:     job.Error,
		Timestamp: time.Now().UTC(),
	}
	if err := writeStatusEvent(w, current); err != nil {
		return
	}
	if canFlush {
		flusher.Flush()
	}

	if model.IsTerminal(job.Status) {
		_ = writeSSEEvent(w, "done", job.Status)
		if canFlush {
			flusher.Flush()
		}
		return
	}

	last := job.Status
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				_ = writeSSEEvent(w, "done", last)
				if canFlush {
					flusher.Flush()
				}
				return
			}
			// Skip the transition already reported as the current status.
			if ev.Status == last {
				continue
			}
			last = ev.Status
			if err := writeStatusEvent(w, ev); err != nil {
				return // Write failed (e.g. client gone).
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

func writeStatusEvent(w http.ResponseWriter, ev engine.StatusEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}
	return writeSSEData(w, string(data))
}

// writeSSEData writes a payload as an SSE data event. Multi-line strings are
// split so that each segment gets its own "data:" prefix.
func writeSSEData(w http.ResponseWriter, line string) error {
	for seg := range strings.SplitSeq(line, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	// Blank line terminates the event.
	_, err := fmt.Fprint(w, "\n")
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
