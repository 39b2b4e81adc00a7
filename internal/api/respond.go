package api

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Error codes returned in the error envelope.
const (
	codeAtCapacity         = "AT_CAPACITY"
	codeJobNotFound        = "JOB_NOT_FOUND"
	codeMissingFile        = "MISSING_FILE"
	codeUnsupportedFormat  = "UNSUPPORTED_FORMAT"
	codeFileTooLarge       = "FILE_TOO_LARGE"
	codeServiceUnavailable = "SERVICE_UNAVAILABLE"
	codeInternalError      = "INTERNAL_ERROR"
)

// errorBody is the payload of the error envelope.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error envelope.
func (s *Server) writeError(w http.ResponseWriter, status int, code, message string, details any) {
	s.writeJSON(w, status, errorResponse{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
