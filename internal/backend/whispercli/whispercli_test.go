package whispercli

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/ranjbar-amirabbas/PYTS/internal/backend"
)

// fakeRunner simulates command execution order and outcomes.
type fakeRunner struct {
	run func(ctx context.Context, name string, args ...string) (commandResult, error)
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	if f.run == nil {
		return commandResult{}, nil
	}
	return f.run(ctx, name, args...)
}

func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// successRunner emulates ffmpeg and whisper.cpp writing their outputs.
func successRunner(t *testing.T, transcript string, calls *[]string, whisperArgs *[]string) *fakeRunner {
	return &fakeRunner{
		run: func(_ context.Context, name string, args ...string) (commandResult, error) {
			*calls = append(*calls, name)
			switch name {
			case "ffmpeg-test":
				mustWriteFile(t, args[len(args)-1], "wav")
			case "whisper-test":
				*whisperArgs = append([]string{}, args...)
				mustWriteFile(t, argValue(args, "-of")+".txt", transcript)
			default:
				t.Fatalf("unexpected command %q", name)
			}
			return commandResult{}, nil
		},
	}
}

func testConfig(t *testing.T) Config {
	return Config{
		FFmpegPath:  "ffmpeg-test",
		WhisperPath: "whisper-test",
		ModelPath:   "/models/ggml-medium.bin",
		Language:    "fa",
		Threads:     2,
		TempDir:     t.TempDir(),
	}
}

func TestTranscribeFileSuccess(t *testing.T) {
	input := filepath.Join(t.TempDir(), "meeting.mp3")
	mustWriteFile(t, input, "mp3 data")

	var calls, whisperArgs []string
	e := newEngine(testConfig(t), nil, successRunner(t, "  salam donya \n", &calls, &whisperArgs))

	text, err := e.TranscribeFile(context.Background(), input)
	if err != nil {
		t.Fatalf("TranscribeFile: %v", err)
	}
	if text != "salam donya" {
		t.Errorf("text = %q, want trimmed transcript", text)
	}
	if !slices.Equal(calls, []string{"ffmpeg-test", "whisper-test"}) {
		t.Errorf("calls = %v", calls)
	}
	if argValue(whisperArgs, "-l") != "fa" {
		t.Errorf("whisper -l = %q, want fa", argValue(whisperArgs, "-l"))
	}
	if argValue(whisperArgs, "-t") != "2" {
		t.Errorf("whisper -t = %q, want 2", argValue(whisperArgs, "-t"))
	}
	if argValue(whisperArgs, "-m") != "/models/ggml-medium.bin" {
		t.Errorf("whisper -m = %q", argValue(whisperArgs, "-m"))
	}
}

func TestTranscribeChunkWritesScratchFile(t *testing.T) {
	cfg := testConfig(t)
	var seenInput string
	runner := &fakeRunner{
		run: func(_ context.Context, name string, args ...string) (commandResult, error) {
			if name == "ffmpeg-test" {
				seenInput = argValue(args, "-i")
				data, err := os.ReadFile(seenInput)
				if err != nil || string(data) != "pcm-bytes" {
					t.Errorf("chunk file content = %q, err = %v", data, err)
				}
				mustWriteFile(t, args[len(args)-1], "wav")
				return commandResult{}, nil
			}
			mustWriteFile(t, argValue(args, "-of")+".txt", "chunk text")
			return commandResult{}, nil
		},
	}
	e := newEngine(cfg, nil, runner)

	text, err := e.TranscribeChunk(context.Background(), []byte("pcm-bytes"))
	if err != nil {
		t.Fatalf("TranscribeChunk: %v", err)
	}
	if text != "chunk text" {
		t.Errorf("text = %q", text)
	}
	if _, err := os.Stat(seenInput); !os.IsNotExist(err) {
		t.Errorf("scratch file %s not removed", seenInput)
	}
	entries, _ := os.ReadDir(cfg.TempDir)
	if len(entries) != 0 {
		t.Errorf("temp dir not cleaned: %d entries", len(entries))
	}
}

func TestFFmpegFailure(t *testing.T) {
	input := filepath.Join(t.TempDir(), "bad.wav")
	mustWriteFile(t, input, "x")

	runner := &fakeRunner{
		run: func(_ context.Context, name string, _ ...string) (commandResult, error) {
			return commandResult{Stderr: "Invalid data found", ExitCode: 1}, errors.New("exit status 1")
		},
	}
	e := newEngine(testConfig(t), nil, runner)

	_, err := e.TranscribeFile(context.Background(), input)
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("error = %v, want *CommandError", err)
	}
	if cmdErr.Stage != "preprocessing" || cmdErr.ExitCode != 1 {
		t.Errorf("CommandError = %+v", cmdErr)
	}
	if errors.Is(err, backend.ErrUnrecoverable) {
		t.Error("ordinary command failure reported as unrecoverable")
	}
}

func TestMissingBinaryIsUnrecoverable(t *testing.T) {
	runner := &fakeRunner{
		run: func(_ context.Context, name string, _ ...string) (commandResult, error) {
			return commandResult{ExitCode: -1}, &exec.Error{Name: name, Err: exec.ErrNotFound}
		},
	}
	e := newEngine(testConfig(t), nil, runner)

	_, err := e.TranscribeChunk(context.Background(), []byte("x"))
	if !errors.Is(err, backend.ErrUnrecoverable) {
		t.Errorf("error = %v, want ErrUnrecoverable", err)
	}
}

func TestMissingTranscript(t *testing.T) {
	runner := &fakeRunner{
		run: func(_ context.Context, name string, args ...string) (commandResult, error) {
			if name == "ffmpeg-test" {
				mustWriteFile(t, args[len(args)-1], "wav")
			}
			return commandResult{}, nil
		},
	}
	e := newEngine(testConfig(t), nil, runner)

	_, err := e.TranscribeChunk(context.Background(), []byte("x"))
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) || cmdErr.Stage != "exporting" {
		t.Errorf("error = %v, want exporting CommandError", err)
	}
}

func TestTranscribeFileMissingInput(t *testing.T) {
	e := newEngine(testConfig(t), nil, &fakeRunner{})
	_, err := e.TranscribeFile(context.Background(), "/does/not/exist.wav")
	if err == nil || !strings.Contains(err.Error(), "cannot access input audio") {
		t.Errorf("error = %v", err)
	}
}

func TestBuildWhisperArgsAutoLanguage(t *testing.T) {
	args := buildWhisperArgs("m.bin", "a.wav", "out", "auto", 0)
	if slices.Contains(args, "-l") {
		t.Errorf("auto language should not pass -l: %v", args)
	}
	if slices.Contains(args, "-t") {
		t.Errorf("zero threads should not pass -t: %v", args)
	}
}

func TestBuildFFmpegArgs(t *testing.T) {
	args := buildFFmpegArgs("in.mp3", "out.wav")
	if argValue(args, "-ar") != "16000" || argValue(args, "-ac") != "1" {
		t.Errorf("args = %v", args)
	}
	if args[len(args)-1] != "out.wav" {
		t.Errorf("last arg = %q, want out.wav", args[len(args)-1])
	}
}

func TestInfoReadiness(t *testing.T) {
	cfg := testConfig(t)
	cfg.ModelPath = filepath.Join(t.TempDir(), "ggml-tiny.bin")
	e := newEngine(cfg, nil, &fakeRunner{})
	if e.Info().Ready {
		t.Error("Ready = true with missing model")
	}
	mustWriteFile(t, cfg.ModelPath, "model")
	info := e.Info()
	if !info.Ready || info.Model != "ggml-tiny.bin" || info.Language != "fa" {
		t.Errorf("Info = %+v", info)
	}
}
