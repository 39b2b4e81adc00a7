package backend

import (
	"context"
	"errors"
)

// ErrUnrecoverable marks an engine failure after which the engine cannot
// serve further requests for the same caller. Streaming sessions close when
// they see it; ordinary errors leave the session open for the next frame.
var ErrUnrecoverable = errors.New("unrecoverable engine failure")

// Engine is the interface that all transcription engines must implement.
// Implementations must be safe for concurrent use by multiple workers.
type Engine interface {
	// TranscribeFile transcribes a prepared audio file.
	TranscribeFile(ctx context.Context, path string) (string, error)

	// TranscribeChunk transcribes an in-memory buffer of streamed audio.
	TranscribeChunk(ctx context.Context, audio []byte) (string, error)

	// Info reports static information about the engine.
	Info() EngineInfo

	// Close releases resources held by the engine.
	Close() error
}

// EngineInfo describes a registered engine.
type EngineInfo struct {
	Name     string `json:"name"`
	Model    string `json:"model,omitempty"`
	Language string `json:"language,omitempty"`
	Ready    bool   `json:"ready"`
}
