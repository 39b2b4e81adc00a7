package backend_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ranjbar-amirabbas/PYTS/internal/backend"
)

// fakeEngine is a minimal Engine for registry tests.
type fakeEngine struct {
	model    string
	closeErr error
	closed   bool
}

func (f *fakeEngine) TranscribeFile(_ context.Context, _ string) (string, error) {
	return "file", nil
}

func (f *fakeEngine) TranscribeChunk(_ context.Context, _ []byte) (string, error) {
	return "chunk", nil
}

func (f *fakeEngine) Info() backend.EngineInfo {
	return backend.EngineInfo{Name: "ignored", Model: f.model, Ready: true}
}

func (f *fakeEngine) Close() error {
	f.closed = true
	return f.closeErr
}

// Compile-time check that fakeEngine satisfies the Engine interface.
var _ backend.Engine = (*fakeEngine)(nil)

func TestRegistryResolve(t *testing.T) {
	reg := backend.NewRegistry()
	e := &fakeEngine{model: "tiny"}
	reg.Register("whisper", e)

	got, err := reg.Resolve("whisper")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != e {
		t.Error("Resolve returned a different engine")
	}
}

func TestRegistryResolveUnknown(t *testing.T) {
	reg := backend.NewRegistry()
	_, err := reg.Resolve("missing")
	if err == nil {
		t.Fatal("expected error for unregistered engine")
	}
	if !strings.Contains(err.Error(), "missing") {
		t.Errorf("error %q does not name the engine", err)
	}
}

func TestRegistryListSorted(t *testing.T) {
	reg := backend.NewRegistry()
	reg.Register("zeta", &fakeEngine{model: "z"})
	reg.Register("alpha", &fakeEngine{model: "a"})
	reg.Register("mid", &fakeEngine{model: "m"})

	infos := reg.List()
	if len(infos) != 3 {
		t.Fatalf("List returned %d engines, want 3", len(infos))
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, name := range want {
		if infos[i].Name != name {
			t.Errorf("infos[%d].Name = %q, want %q", i, infos[i].Name, name)
		}
	}
	if infos[0].Model != "a" {
		t.Errorf("infos[0].Model = %q, want a", infos[0].Model)
	}
}

func TestRegistryListEmpty(t *testing.T) {
	reg := backend.NewRegistry()
	if infos := reg.List(); len(infos) != 0 {
		t.Errorf("List on empty registry = %v", infos)
	}
}

func TestRegistryCloseJoinsErrors(t *testing.T) {
	reg := backend.NewRegistry()
	ok := &fakeEngine{}
	bad := &fakeEngine{closeErr: errors.New("busy")}
	reg.Register("ok", ok)
	reg.Register("bad", bad)

	err := reg.Close()
	if err == nil || !strings.Contains(err.Error(), "busy") {
		t.Errorf("Close error = %v, want joined busy error", err)
	}
	if !ok.closed || !bad.closed {
		t.Error("not every engine was closed")
	}
}
