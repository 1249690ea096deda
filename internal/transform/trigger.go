// Package transform runs the downstream transformation command (dbt by
// default) once loading has finished.
package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/shlex"
	"go.uber.org/zap"
	"go.uber.org/zap/zapio"
)

// Result describes one finished command run.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Trigger runs a fixed command line in a working directory.
type Trigger struct {
	argv   []string
	dir    string
	env    []string
	logger *zap.Logger
}

// NewTrigger parses command with shell-like quoting.
//
// The command is not run through a shell; pipes and redirects are not
// interpreted.
func NewTrigger(command, dir string, logger *zap.Logger) (*Trigger, error) {
	argv, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("transform: parse command %q: %w", command, err)
	}
	if len(argv) == 0 {
		return nil, errors.New("transform: command is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trigger{argv: argv, dir: dir, logger: logger}, nil
}

// WithEnv returns a copy of t that appends env ("KEY=value") to the
// inherited process environment.
func (t *Trigger) WithEnv(env ...string) *Trigger {
	cp := *t
	cp.env = append(append([]string(nil), t.env...), env...)
	return &cp
}

// Command returns the parsed argv.
func (t *Trigger) Command() []string {
	return append([]string(nil), t.argv...)
}

// Run executes the command once. A non-zero exit status is an error; the
// Result is filled in either way.
func (t *Trigger) Run(ctx context.Context) (Result, error) {
	t.logger.Info("running transform",
		zap.String("command", strings.Join(t.argv, " ")),
		zap.String("dir", t.dir),
	)

	var stdOutBuffer bytes.Buffer
	var stdErrBuffer bytes.Buffer
	outLog := &zapio.Writer{Log: t.logger.With(zap.String("stream", "stdout")), Level: zap.DebugLevel}
	errLog := &zapio.Writer{Log: t.logger.With(zap.String("stream", "stderr")), Level: zap.DebugLevel}

	cmd := exec.CommandContext(ctx, t.argv[0], t.argv[1:]...)
	cmd.Dir = t.dir
	cmd.Stdout = io.MultiWriter(outLog, &stdOutBuffer)
	cmd.Stderr = io.MultiWriter(errLog, &stdErrBuffer)
	cmd.Env = append(os.Environ(), t.env...)

	start := time.Now()
	err := cmd.Run()
	_ = outLog.Close()
	_ = errLog.Close()

	result := Result{
		Stdout:   stdOutBuffer.String(),
		Stderr:   stdErrBuffer.String(),
		Duration: time.Since(start),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
		t.logger.Warn("transform failed",
			zap.Int("exit_code", result.ExitCode),
			zap.String("stderr", tail(result.Stderr, 2048)),
			zap.Error(err),
		)
		return result, fmt.Errorf("transform: %s: %w", t.argv[0], err)
	}

	t.logger.Info("transform finished", zap.Duration("elapsed", result.Duration))
	return result, nil
}

// IsPermanent reports whether retrying err cannot help: the executable or
// the working directory does not exist.
func IsPermanent(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
