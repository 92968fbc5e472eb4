package backend

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestExternalDownloadSucceeds(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "out.bin")
	ext := NewExternal("sh", []string{"-c", "printf 'hello world' > '{output}'"}, nil)

	if !ext.Available() {
		t.Skip("sh not available on this host")
	}

	err := ext.Download(context.Background(), Params{URL: "http://example.invalid/file", OutputPath: outPath}, Callbacks{})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "hello world" {
		t.Errorf("expected 'hello world', got %q", string(got))
	}
}

func TestExternalDownloadFailsWithStderr(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "out.bin")
	ext := NewExternal("sh", []string{"-c", "echo 'boom: disk full' 1>&2; exit 1"}, nil)

	err := ext.Download(context.Background(), Params{URL: "http://example.invalid/file", OutputPath: outPath}, Callbacks{})
	if err == nil {
		t.Fatal("expected an error from a non-zero exit")
	}
}

func TestExternalWarnsOncePauseUnsupported(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "out.bin")
	var warnings int
	ext := NewExternal("sh", []string{"-c", "sleep 1.5; printf done > '{output}'"}, func(string) { warnings++ })

	paused := true
	go func() {
		time.Sleep(2 * time.Second)
		paused = false
	}()

	_ = ext.Download(context.Background(), Params{URL: "http://example.invalid/file", OutputPath: outPath}, Callbacks{
		IsPaused: func() bool { return paused },
	})

	if warnings == 0 {
		t.Error("expected at least one pause-unsupported warning")
	}
	if warnings > 1 {
		t.Errorf("expected the warning to fire at most once, got %d", warnings)
	}
}

func TestExternalNotAvailableForMissingBinary(t *testing.T) {
	ext := NewExternal("this-binary-does-not-exist-xyz", nil, nil)
	if ext.Available() {
		t.Error("expected Available() to be false for a missing binary")
	}
}
