// Package config loads service settings from an optional YAML file and
// environment variables, and builds the process logger.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListenAddr      = ":8000"
	defaultLogLevel        = "info"
	defaultEngine          = EngineWhisperCLI
	defaultMaxWorkers      = 4
	defaultMaxQueueSize    = 100
	defaultMaxFileSizeMB   = 500
	defaultJobMaxAge       = 24 * time.Hour
	defaultCleanupInterval = 10 * time.Minute
	defaultMinChunkSize    = 100 * 1024
	defaultMaxBufferSize   = 10 * 1024 * 1024
	defaultWhisperBin      = "whisper-cli"
	defaultWhisperModel    = "models/ggml-medium.bin"
	defaultFFmpegBin       = "ffmpeg"
	defaultLanguage        = "fa"

	envConfigFile      = "PYTS_CONFIG_FILE"
	envListenAddr      = "PYTS_LISTEN_ADDR"
	envLogLevel        = "PYTS_LOG_LEVEL"
	envEngine          = "PYTS_ENGINE"
	envMaxWorkers      = "PYTS_MAX_WORKERS"
	envMaxQueueSize    = "PYTS_MAX_QUEUE_SIZE"
	envMaxFileSizeMB   = "PYTS_MAX_FILE_SIZE_MB"
	envJobMaxAge       = "PYTS_JOB_MAX_AGE"
	envCleanupInterval = "PYTS_CLEANUP_INTERVAL"
	envMinChunkSize    = "PYTS_STREAM_MIN_CHUNK_SIZE"
	envMaxBufferSize   = "PYTS_STREAM_MAX_BUFFER_SIZE"
	envWhisperBin      = "PYTS_WHISPER_BIN"
	envWhisperModel    = "PYTS_WHISPER_MODEL"
	envWhisperThreads  = "PYTS_WHISPER_THREADS"
	envFFmpegBin       = "PYTS_FFMPEG_BIN"
	envLanguage        = "PYTS_LANGUAGE"
	envUploadDir       = "PYTS_UPLOAD_DIR"
)

// Engine names accepted in the engine setting.
const (
	EngineWhisperCLI = "whisper-cli"
	EngineStub       = "stub"
)

// Config holds application configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
	Engine     string `yaml:"engine"`
	UploadDir  string `yaml:"upload_dir"`

	MaxWorkers      int           `yaml:"max_workers"`
	MaxQueueSize    int           `yaml:"max_queue_size"`
	MaxFileSizeMB   int           `yaml:"max_file_size_mb"`
	JobMaxAge       time.Duration `yaml:"job_max_age"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	Stream  StreamConfig  `yaml:"stream"`
	Whisper WhisperConfig `yaml:"whisper"`
}

// StreamConfig holds streaming buffer limits in bytes.
type StreamConfig struct {
	MinChunkSize  int `yaml:"min_chunk_size"`
	MaxBufferSize int `yaml:"max_buffer_size"`
}

// WhisperConfig holds settings for the whisper.cpp command line engine.
type WhisperConfig struct {
	Binary   string `yaml:"binary"`
	Model    string `yaml:"model"`
	FFmpeg   string `yaml:"ffmpeg"`
	Language string `yaml:"language"`
	Threads  int    `yaml:"threads"`
}

// Default returns a Config with default values.
func Default() Config {
	return Config{
		ListenAddr:      defaultListenAddr,
		LogLevel:        defaultLogLevel,
		Engine:          defaultEngine,
		MaxWorkers:      defaultMaxWorkers,
		MaxQueueSize:    defaultMaxQueueSize,
		MaxFileSizeMB:   defaultMaxFileSizeMB,
		JobMaxAge:       defaultJobMaxAge,
		CleanupInterval: defaultCleanupInterval,
		Stream: StreamConfig{
			MinChunkSize:  defaultMinChunkSize,
			MaxBufferSize: defaultMaxBufferSize,
		},
		Whisper: WhisperConfig{
			Binary:   defaultWhisperBin,
			Model:    defaultWhisperModel,
			FFmpeg:   defaultFFmpegBin,
			Language: defaultLanguage,
		},
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// PYTS_CONFIG_FILE if set, then environment variables, and validates it.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv(envConfigFile); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.ListenAddr, envListenAddr)
	setString(&cfg.LogLevel, envLogLevel)
	setString(&cfg.Engine, envEngine)
	setString(&cfg.UploadDir, envUploadDir)
	setString(&cfg.Whisper.Binary, envWhisperBin)
	setString(&cfg.Whisper.Model, envWhisperModel)
	setString(&cfg.Whisper.FFmpeg, envFFmpegBin)
	setString(&cfg.Whisper.Language, envLanguage)

	return errors.Join(
		setInt(&cfg.MaxWorkers, envMaxWorkers),
		setInt(&cfg.MaxQueueSize, envMaxQueueSize),
		setInt(&cfg.MaxFileSizeMB, envMaxFileSizeMB),
		setInt(&cfg.Stream.MinChunkSize, envMinChunkSize),
		setInt(&cfg.Stream.MaxBufferSize, envMaxBufferSize),
		setInt(&cfg.Whisper.Threads, envWhisperThreads),
		setDuration(&cfg.JobMaxAge, envJobMaxAge),
		setDuration(&cfg.CleanupInterval, envCleanupInterval),
	)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", key, v)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", key, v)
	}
	*dst = d
	return nil
}

// Validate checks the config for out-of-range values.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.ListenAddr != "", "listen_addr must not be empty")
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel))
	}
	switch c.Engine {
	case EngineWhisperCLI, EngineStub:
	default:
		errs = append(errs, fmt.Errorf("engine must be %q or %q, got %q", EngineWhisperCLI, EngineStub, c.Engine))
	}

	check(c.MaxWorkers >= 1 && c.MaxWorkers <= 32, "max_workers must be between 1 and 32, got %d", c.MaxWorkers)
	check(c.MaxQueueSize >= 1 && c.MaxQueueSize <= 10000, "max_queue_size must be between 1 and 10000, got %d", c.MaxQueueSize)
	check(c.MaxFileSizeMB >= 1 && c.MaxFileSizeMB <= 5000, "max_file_size_mb must be between 1 and 5000, got %d", c.MaxFileSizeMB)
	check(c.JobMaxAge >= time.Hour && c.JobMaxAge <= 720*time.Hour, "job_max_age must be between 1h and 720h, got %s", c.JobMaxAge)
	check(c.CleanupInterval > 0, "cleanup_interval must be > 0, got %s", c.CleanupInterval)

	check(c.Stream.MinChunkSize >= 1024 && c.Stream.MinChunkSize <= 10*1024*1024,
		"stream.min_chunk_size must be between 1KiB and 10MiB, got %d", c.Stream.MinChunkSize)
	check(c.Stream.MaxBufferSize >= 100*1024 && c.Stream.MaxBufferSize <= 100*1024*1024,
		"stream.max_buffer_size must be between 100KiB and 100MiB, got %d", c.Stream.MaxBufferSize)
	check(c.Stream.MaxBufferSize >= c.Stream.MinChunkSize,
		"stream.max_buffer_size (%d) must be >= stream.min_chunk_size (%d)", c.Stream.MaxBufferSize, c.Stream.MinChunkSize)
	check(c.Whisper.Threads >= 0, "whisper.threads must be >= 0, got %d", c.Whisper.Threads)

	if c.Engine == EngineWhisperCLI {
		check(c.Whisper.Binary != "", "whisper.binary must not be empty")
		check(c.Whisper.Model != "", "whisper.model must not be empty")
		check(c.Whisper.FFmpeg != "", "whisper.ffmpeg must not be empty")
	}

	return errors.Join(errs...)
}

// MaxFileSizeBytes returns the upload limit in bytes.
func (c Config) MaxFileSizeBytes() int64 {
	return int64(c.MaxFileSizeMB) * 1024 * 1024
}

// Level returns the configured log level.
func (c Config) Level() slog.Level {
	return parseLogLevel(c.LogLevel)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
