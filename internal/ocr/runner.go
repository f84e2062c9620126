package ocr

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// Runner executes external tools (tesseract, pdftoppm, HEIC converters).
// Tests swap it for a stub.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecError is a failed external command with the tail of its stderr.
type ExecError struct {
	Name   string
	Stderr string
	Err    error
}

func (e *ExecError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Name, e.Err, e.Stderr)
}

func (e *ExecError) Unwrap() error { return e.Err }

const stderrTail = 2 << 10

type execRunner struct {
	logger *slog.Logger
}

func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		tail := stderr.Bytes()
		if len(tail) > stderrTail {
			tail = tail[len(tail)-stderrTail:]
		}
		r.logger.Warn("ocr.exec.failed", "cmd", name, "args", args,
			"duration_ms", time.Since(start).Milliseconds(), "error", err)
		return stdout.Bytes(), stderr.Bytes(), &ExecError{Name: name, Stderr: string(bytes.TrimSpace(tail)), Err: err}
	}
	r.logger.Debug("ocr.exec.ok", "cmd", name, "duration_ms", time.Since(start).Milliseconds(),
		"stdout_bytes", stdout.Len())
	return stdout.Bytes(), stderr.Bytes(), nil
}
