// Package whispercli implements a transcription engine that shells out to
// ffmpeg for audio normalisation and to the whisper.cpp command line tool
// for inference.
package whispercli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ranjbar-amirabbas/PYTS/internal/backend"
)

// Config holds the tool locations and model settings for the engine.
type Config struct {
	FFmpegPath  string
	WhisperPath string
	ModelPath   string
	Language    string
	Threads     int

	// TempDir is the parent for per-call scratch directories. Empty means
	// the OS default.
	TempDir string
}

// CommandError is a stage-aware error with the failing command's context.
type CommandError struct {
	Stage    string
	Message  string
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

// Error formats the failure for job records and logs.
func (e *CommandError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s (cmd=%s exit=%d)", e.Stage, e.Message, e.Command, e.ExitCode)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

func (r execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		res.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		return res, err
	}
	return res, nil
}

// Engine runs one ffmpeg and one whisper.cpp process per transcription.
// Calls share no state besides configuration, so it is safe for concurrent use.
type Engine struct {
	cfg    Config
	log    *slog.Logger
	runner commandRunner
}

// Compile-time interface satisfaction check.
var _ backend.Engine = (*Engine)(nil)

// New returns an engine that executes the configured binaries.
func New(cfg Config, logger *slog.Logger) *Engine {
	return newEngine(cfg, logger, execRunner{})
}

func newEngine(cfg Config, logger *slog.Logger, runner commandRunner) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.WhisperPath == "" {
		cfg.WhisperPath = "whisper-cli"
	}
	return &Engine{
		cfg:    cfg,
		log:    logger.With("component", "engine.whispercli", "model", cfg.ModelPath),
		runner: runner,
	}
}

// TranscribeFile implements backend.Engine.
func (e *Engine) TranscribeFile(ctx context.Context, path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", &CommandError{Stage: "preprocessing", Message: "cannot access input audio", Err: err}
	}

	dir, err := os.MkdirTemp(e.cfg.TempDir, "pyts-file-*")
	if err != nil {
		return "", &CommandError{Stage: "preprocessing", Message: "failed to create temporary workspace", Err: err}
	}
	defer os.RemoveAll(dir)

	return e.run(ctx, path, dir)
}

// TranscribeChunk implements backend.Engine. The buffer is written to a
// scratch file and goes through the same pipeline as a batch upload.
func (e *Engine) TranscribeChunk(ctx context.Context, audio []byte) (string, error) {
	dir, err := os.MkdirTemp(e.cfg.TempDir, "pyts-chunk-*")
	if err != nil {
		return "", &CommandError{Stage: "preprocessing", Message: "failed to create temporary workspace", Err: err}
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "chunk.wav")
	if err := os.WriteFile(in, audio, 0o600); err != nil {
		return "", &CommandError{Stage: "preprocessing", Message: "failed to write audio chunk", Err: err}
	}
	return e.run(ctx, in, dir)
}

func (e *Engine) run(ctx context.Context, input, dir string) (string, error) {
	wav := filepath.Join(dir, "normalized-16k-mono.wav")
	args := buildFFmpegArgs(input, wav)
	if err := e.exec(ctx, "preprocessing", "ffmpeg audio conversion failed", e.cfg.FFmpegPath, args); err != nil {
		return "", err
	}

	base := filepath.Join(dir, "transcript")
	args = buildWhisperArgs(e.cfg.ModelPath, wav, base, e.cfg.Language, e.cfg.Threads)
	if err := e.exec(ctx, "transcribing", "whisper.cpp transcription failed", e.cfg.WhisperPath, args); err != nil {
		return "", err
	}

	content, err := os.ReadFile(base + ".txt")
	if err != nil {
		return "", &CommandError{Stage: "exporting", Message: "whisper.cpp completed but transcript is missing", Err: err}
	}
	return strings.TrimSpace(string(content)), nil
}

func (e *Engine) exec(ctx context.Context, stage, msg, name string, args []string) error {
	res, err := e.runner.Run(ctx, name, args...)
	if err == nil {
		return nil
	}
	e.log.Warn("command failed", "stage", stage, "cmd", name, "exit_code", res.ExitCode, "stderr", tail(res.Stderr, 512))

	cause := err
	if errors.Is(err, exec.ErrNotFound) {
		cause = fmt.Errorf("%w: %w", backend.ErrUnrecoverable, err)
	}
	return &CommandError{
		Stage:    stage,
		Message:  msg,
		Command:  name,
		ExitCode: res.ExitCode,
		Stderr:   res.Stderr,
		Err:      cause,
	}
}

// Info implements backend.Engine. The engine is ready when the model file exists.
func (e *Engine) Info() backend.EngineInfo {
	_, err := os.Stat(e.cfg.ModelPath)
	return backend.EngineInfo{
		Name:     "whisper-cli",
		Model:    filepath.Base(e.cfg.ModelPath),
		Language: e.cfg.Language,
		Ready:    err == nil,
	}
}

// Close implements backend.Engine.
func (e *Engine) Close() error {
	return nil
}

// normalizeLanguage maps "auto" and empty language to no CLI override.
func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}

// buildFFmpegArgs builds preprocessing CLI args for mono 16k PCM WAV output.
func buildFFmpegArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}
}

// buildWhisperArgs builds whisper.cpp args for txt transcript export.
func buildWhisperArgs(modelPath, audioPath, textBase, language string, threads int) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", textBase,
		"-otxt",
		"-np",
	}
	if lang := normalizeLanguage(language); lang != "" {
		args = append(args, "-l", lang)
	}
	if threads > 0 {
		args = append(args, "-t", strconv.Itoa(threads))
	}
	return args
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
