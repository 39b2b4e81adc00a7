package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ranjbar-amirabbas/PYTS/internal/audio"
	"github.com/ranjbar-amirabbas/PYTS/internal/engine"
	"github.com/ranjbar-amirabbas/PYTS/internal/model"
	"github.com/ranjbar-amirabbas/PYTS/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	uploadField      = "audio_file"
)

// submitResponse is the JSON response for POST /api/v1/transcribe/batch.
type submitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// jobResponse is the JSON representation of a job. Transcription is null
// until the job has completed.
type jobResponse struct {
	JobID         string     `json:"job_id"`
	Status        string     `json:"status"`
	Transcription *string    `json:"transcription"`
	Error         *string    `json:"error"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at"`
}

// listJobsResponse wraps the paginated list response.
type listJobsResponse struct {
	Jobs   []jobResponse `json:"jobs"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

func newJobResponse(j *model.Job) jobResponse {
	resp := jobResponse{
		JobID:       j.ID,
		Status:      j.Status,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
	if j.Status == model.StatusCompleted {
		text := j.Result
		resp.Transcription = &text
	}
	if j.Error != "" {
		msg := j.Error
		resp.Error = &msg
	}
	return resp
}

func capacityDetails(c engine.Capacity) map[string]int {
	return map[string]int{
		"active_jobs": c.ActiveJobs,
		"queued_jobs": c.QueuedJobs,
		"max_workers": c.MaxWorkers,
		"max_queue":   c.MaxQueueSize,
	}
}

func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	// Reject before reading a potentially large body.
	if c := s.manager.Capacity(); c.AtCapacity {
		s.writeError(w, http.StatusServiceUnavailable, codeAtCapacity,
			"service is at capacity, please try again later", capacityDetails(c))
		return
	}

	// Uploads can outlast the server write timeout.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("clear write deadline for upload", "error", err)
	}

	// Leave headroom for multipart framing around the file part.
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxFileSize+1<<20)

	mr, err := r.MultipartReader()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, codeMissingFile,
			"no audio file provided", "expected multipart/form-data with an audio_file field")
		return
	}

	var path string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.writeUploadError(w, err)
			return
		}
		if part.FormName() != uploadField || part.FileName() == "" {
			part.Close()
			continue
		}

		ct := part.Header.Get("Content-Type")
		if !audio.SupportedContentType(ct) {
			part.Close()
			s.writeError(w, http.StatusUnsupportedMediaType, codeUnsupportedFormat,
				audio.ErrUnsupportedFormat.Error(), fmt.Sprintf("Received content type: %s", ct))
			return
		}

		path, err = s.audio.Save(part, part.FileName(), s.opts.MaxFileSize)
		part.Close()
		if err != nil {
			s.writeUploadError(w, err)
			return
		}
		break
	}

	if path == "" {
		s.writeError(w, http.StatusBadRequest, codeMissingFile,
			"no audio file provided", "the audio_file field is required")
		return
	}

	info, err := s.audio.Validate(path)
	if err != nil {
		s.audio.Remove(path)
		s.writeUploadError(w, err)
		return
	}

	id, err := s.manager.CreateAndSubmit(r.Context(), path)
	if err != nil {
		s.audio.Remove(path)
		switch {
		case errors.Is(err, engine.ErrCapacityExceeded):
			s.writeError(w, http.StatusServiceUnavailable, codeAtCapacity,
				"service is at capacity, please try again later", capacityDetails(s.manager.Capacity()))
		case errors.Is(err, engine.ErrShuttingDown):
			s.writeError(w, http.StatusServiceUnavailable, codeServiceUnavailable, "service is shutting down", nil)
		default:
			s.logger.Error("submit job", "error", err)
			s.writeError(w, http.StatusInternalServerError, codeInternalError, "failed to submit job", nil)
		}
		return
	}

	s.logger.Info("batch job accepted",
		"job_id", id,
		"format", info.Format,
		"bytes", info.Size,
	)
	s.writeJSON(w, http.StatusOK, submitResponse{JobID: id, Status: model.StatusPending})
}

// writeUploadError maps upload and validation failures to error responses.
func (s *Server) writeUploadError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, audio.ErrFileTooLarge), errors.As(err, &maxErr):
		s.writeError(w, http.StatusRequestEntityTooLarge, codeFileTooLarge,
			audio.ErrFileTooLarge.Error(), fmt.Sprintf("Maximum file size: %d bytes", s.opts.MaxFileSize))
	case errors.Is(err, audio.ErrEmptyFile):
		s.writeError(w, http.StatusBadRequest, codeMissingFile, err.Error(), nil)
	case errors.Is(err, audio.ErrUnsupportedFormat):
		s.writeError(w, http.StatusUnsupportedMediaType, codeUnsupportedFormat, err.Error(), nil)
	default:
		s.logger.Error("read upload", "error", err)
		s.writeError(w, http.StatusBadRequest, codeMissingFile, "failed to read audio file", err.Error())
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "job_id")

	job, err := s.manager.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, codeJobNotFound, "job not found", map[string]string{"job_id": id})
		return
	}
	if err != nil {
		s.logger.Error("get job", "job_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, codeInternalError, "failed to get job", nil)
		return
	}

	s.writeJSON(w, http.StatusOK, newJobResponse(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	jobs, total, err := s.manager.ListJobs(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, codeInternalError, "failed to list jobs", nil)
		return
	}

	items := make([]jobResponse, len(jobs))
	for i, j := range jobs {
		items[i] = newJobResponse(j)
	}

	s.writeJSON(w, http.StatusOK, listJobsResponse{
		Jobs:   items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}
