// Package engine runs the external transcription and diarization tools for
// the worker queues.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// CommandLog captures one external command invocation.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exit_code"`
	Stderr   string   `json:"stderr"`
}

// PipelineError is a stage-aware error with optional command context.
type PipelineError struct {
	Stage      string     `json:"stage"`
	Message    string     `json:"message"`
	CommandLog CommandLog `json:"command_log"`
	Err        error      `json:"-"`
}

func (e *PipelineError) Error() string {
	if e == nil {
		return ""
	}
	if e.CommandLog.Command == "" {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s (cmd=%s exit=%d)", e.Stage, e.Message, e.CommandLog.Command, e.CommandLog.ExitCode)
}

func (e *PipelineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution. onStderr receives every
// complete stderr line while the process runs.
type commandRunner interface {
	Run(ctx context.Context, name string, args []string, onStderr func(line string)) (commandResult, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string, onStderr func(line string)) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	stderr := &lineWriter{onLine: onStderr}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	stderr.flush()
	result := commandResult{
		Stdout: stdout.String(),
		Stderr: stderr.tail.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

const maxStderrTail = 8 << 10

// lineWriter splits a byte stream into lines and keeps the last bytes of it.
// whisper.cpp rewrites its progress line with \r, so both \r and \n end a
// line.
type lineWriter struct {
	onLine  func(string)
	partial []byte
	tail    bytes.Buffer
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.tail.Write(p)
	if over := w.tail.Len() - maxStderrTail; over > 0 {
		w.tail.Next(over)
	}

	for _, b := range p {
		if b == '\n' || b == '\r' {
			w.emit()
			continue
		}
		w.partial = append(w.partial, b)
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	w.emit()
}

func (w *lineWriter) emit() {
	if len(w.partial) == 0 {
		return
	}
	line := string(w.partial)
	w.partial = w.partial[:0]
	if w.onLine != nil {
		w.onLine(line)
	}
}

var progressPattern = regexp.MustCompile(`progress\s*=\s*(\d{1,3})\s*%`)

// parseProgress extracts N from a "progress = N%" line.
func parseProgress(line string) (int, bool) {
	m := progressPattern.FindStringSubmatch(strings.ToLower(line))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n > 100 {
		return 0, false
	}
	return n, true
}

// scale maps a 0-100 sub-step percent into [from, to].
func scale(percent, from, to int) int {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return from + percent*(to-from)/100
}
