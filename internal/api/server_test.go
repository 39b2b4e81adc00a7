package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/ranjbar-amirabbas/PYTS/internal/audio"
	"github.com/ranjbar-amirabbas/PYTS/internal/backend"
	"github.com/ranjbar-amirabbas/PYTS/internal/backend/stub"
	"github.com/ranjbar-amirabbas/PYTS/internal/engine"
	"github.com/ranjbar-amirabbas/PYTS/internal/model"
	"github.com/ranjbar-amirabbas/PYTS/internal/store"
)

// testEnv bundles a server with the collaborators tests need to inspect.
type testEnv struct {
	srv       *Server
	manager   *engine.Manager
	engine    *stub.Engine
	uploadDir string
	ts        *httptest.Server
}

type envOptions struct {
	engine        string
	stub          stub.Options
	jobs          engine.Config
	maxFileSize   int64
	minChunkSize  int
	maxBufferSize int
}

func defaultEnvOptions() envOptions {
	return envOptions{
		engine:        "stub",
		jobs:          engine.Config{MaxWorkers: 2, MaxQueueSize: 10},
		maxFileSize:   1 << 20,
		minChunkSize:  1000,
		maxBufferSize: 10000,
	}
}

func newTestEnv(t *testing.T, o envOptions) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	eng := stub.New(logger, o.stub)
	reg := backend.NewRegistry()
	reg.Register("stub", eng)

	uploadDir := t.TempDir()
	ap := audio.NewProcessor(uploadDir, logger)

	m := engine.NewManager(store.NewMemoryStore(), eng, o.jobs, logger)
	m.OnFinish(func(j *model.Job) { ap.Remove(j.InputRef) })
	m.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})

	srv := NewServer(":0", m, reg, ap, Options{
		Engine:        o.engine,
		MaxFileSize:   o.maxFileSize,
		MinChunkSize:  o.minChunkSize,
		MaxBufferSize: o.maxBufferSize,
	}, logger)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &testEnv{srv: srv, manager: m, engine: eng, uploadDir: uploadDir, ts: ts}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newTestEnv(t, defaultEnvOptions()).srv
}

// wavBytes returns one second of 16 kHz mono silence as a WAV file.
func wavBytes(t *testing.T) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	enc := wav.NewEncoder(f, 16000, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: 16000},
		Data:           make([]int, 16000),
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close wav: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	return data
}

// multipartBody builds a multipart form with one file part.
func multipartBody(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &body, mw.FormDataContentType()
}

func decodeJSON(t *testing.T, r io.Reader, v any) {
	t.Helper()
	if err := json.NewDecoder(r).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/test")
	if err != nil {
		t.Fatalf("GET /test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestPanicRecovery(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/panic")
	if err != nil {
		t.Fatalf("GET /panic: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestCORSHeaders(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest("OPTIONS", ts.URL+"/test", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS /test: %v", err)
	}
	defer resp.Body.Close()

	if v := resp.Header.Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
	}
}

func TestErrorEnvelope(t *testing.T) {
	env := newTestEnv(t, defaultEnvOptions())

	resp, err := http.Get(env.ts.URL + "/api/v1/transcribe/batch/does-not-exist")
	if err != nil {
		t.Fatalf("GET job: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body struct {
		Error struct {
			Code    string            `json:"code"`
			Message string            `json:"message"`
			Details map[string]string `json:"details"`
		} `json:"error"`
	}
	decodeJSON(t, resp.Body, &body)

	if body.Error.Code != codeJobNotFound {
		t.Errorf("code = %q, want %q", body.Error.Code, codeJobNotFound)
	}
	if body.Error.Message == "" {
		t.Error("message is empty")
	}
	if body.Error.Details["job_id"] != "does-not-exist" {
		t.Errorf("details.job_id = %q, want does-not-exist", body.Error.Details["job_id"])
	}
}

func TestParseIntQuery(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 7},
		{"limit=3", 3},
		{"limit=abc", 7},
		{"limit=-2", -2},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)
		if got := parseIntQuery(r, "limit", 7); got != tt.want {
			t.Errorf("parseIntQuery(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}
