package backend

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	externalPollInterval = 500 * time.Millisecond
	stderrCaptureLimit   = 300
)

// External drives a third-party downloader binary as a subprocess, inferring
// progress from the growing size of the output file rather than parsing the
// subprocess's own output format. It does not support pausing: a paused job
// running under this backend logs a one-time warning and keeps going.
type External struct {
	// command and argTemplate describe how to invoke the subprocess.
	// argTemplate entries containing "{url}" or "{output}" are substituted
	// with params.URL / params.OutputPath before exec.
	command      string
	argTemplate  []string
	warnOnce     sync.Once
	warnFn       func(string)
}

// NewExternal builds an External backend around the given binary and
// argument template. warnFn receives the one-time pause-unsupported
// message; it may be nil to discard it.
func NewExternal(command string, argTemplate []string, warnFn func(string)) *External {
	return &External{command: command, argTemplate: argTemplate, warnFn: warnFn}
}

func (e *External) Name() string { return "external" }

// Available reports whether the configured binary is on PATH.
func (e *External) Available() bool {
	if e.command == "" {
		return false
	}
	_, err := exec.LookPath(e.command)
	return err == nil
}

func (e *External) buildArgs(params Params) []string {
	args := make([]string, len(e.argTemplate))
	for i, a := range e.argTemplate {
		a = strings.ReplaceAll(a, "{url}", params.URL)
		a = strings.ReplaceAll(a, "{output}", params.OutputPath)
		args[i] = a
	}
	return args
}

// Download spawns the subprocess and watches params.OutputPath's size to
// report progress, since most external downloaders don't expose a stable
// machine-readable progress channel.
func (e *External) Download(ctx context.Context, params Params, cb Callbacks) error {
	procCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(procCtx, e.command, e.buildArgs(params)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start external downloader: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var existing int64
	if info, err := os.Stat(params.OutputPath); err == nil {
		existing = info.Size()
	}
	start := time.Now()
	ticker := time.NewTicker(externalPollInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			e.emitOnce(cb, params.OutputPath, existing, start)
			if err != nil {
				captured := stderr.String()
				if len(captured) > stderrCaptureLimit {
					captured = captured[:stderrCaptureLimit]
				}
				if strings.TrimSpace(captured) != "" {
					return fmt.Errorf("external downloader failed: %s", captured)
				}
				return fmt.Errorf("external downloader failed: %w", err)
			}
			return nil

		case <-ticker.C:
			if cb.IsCancelled != nil && cb.IsCancelled() {
				cancel()
				<-done
				return context.Canceled
			}
			if cb.IsPaused != nil && cb.IsPaused() {
				e.warnOnce.Do(func() {
					if e.warnFn != nil {
						e.warnFn("external backend does not support pausing; download continues")
					}
				})
			}
			e.emitOnce(cb, params.OutputPath, existing, start)
		}
	}
}

func (e *External) emitOnce(cb Callbacks, outputPath string, existing int64, start time.Time) {
	if cb.EmitProgress == nil {
		return
	}
	info, err := os.Stat(outputPath)
	if err != nil {
		return
	}
	downloaded := info.Size()
	elapsed := time.Since(start).Seconds()
	speedKBps := 0.0
	if elapsed > 0 {
		speedKBps = float64(downloaded-existing) / 1024 / elapsed
	}
	cb.EmitProgress(downloaded, -1, speedKBps)
}
