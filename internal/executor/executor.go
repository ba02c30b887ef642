// Package executor runs external programs for the CLI backend with output
// capture, environment injection and context cancellation.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"
)

// waitDelay is how long a cancelled process may keep its output pipes open
// before they are forcibly closed.
const waitDelay = 5 * time.Second

// Result holds the captured output of one run.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner runs a program with arguments.
type Runner interface {
	Run(ctx context.Context, args []string, opts ...Option) (*Result, error)
}

// ExitError is returned when the program ran but exited unsuccessfully.
type ExitError struct {
	Program  string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s %s: exit status %d", e.Program, strings.Join(e.Args, " "), e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Options configures a run.
type Options struct {
	// WorkingDir is the directory the program runs in.
	WorkingDir string

	// Env is added on top of the base environment. Values are never logged.
	Env map[string]string

	// BaseEnv replaces os.Environ() as the inherited environment when non-nil.
	BaseEnv []string

	StderrWriter io.Writer
	Logger       *slog.Logger
}

// Option is a function that modifies Options.
type Option func(*Options)

// Program runs a fixed executable.
type Program struct {
	path    string
	options Options
}

var _ Runner = (*Program)(nil)

// New returns a Program for path with base options applied to every run.
func New(path string, opts ...Option) *Program {
	p := &Program{path: path}
	for _, opt := range opts {
		opt(&p.options)
	}
	return p
}

// Run executes the program once. A cancelled context kills the process and
// is reported as the context error.
func (p *Program) Run(ctx context.Context, args []string, opts ...Option) (*Result, error) {
	options := p.mergeOptions(opts...)

	cmd := exec.CommandContext(ctx, p.path, args...)
	cmd.WaitDelay = waitDelay
	if options.WorkingDir != "" {
		cmd.Dir = options.WorkingDir
	}
	cmd.Env = buildEnv(options)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = teeTo(&stderr, options.StderrWriter)

	options.Logger.Debug("running command",
		"program", p.path,
		"args", args,
		"dir", options.WorkingDir,
		"env", envKeys(options.Env))

	err := cmd.Run()
	result := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err == nil {
		return result, nil
	}

	if ctx.Err() != nil {
		result.ExitCode = -1
		return result, fmt.Errorf("%s %s: %w", p.path, strings.Join(args, " "), ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, &ExitError{
			Program:  p.path,
			Args:     args,
			ExitCode: result.ExitCode,
			Stderr:   result.Stderr,
			Err:      err,
		}
	}

	result.ExitCode = -1
	return result, fmt.Errorf("command execution failed: %w", err)
}

func (p *Program) mergeOptions(opts ...Option) *Options {
	merged := p.options
	merged.Env = make(map[string]string, len(p.options.Env))
	for k, v := range p.options.Env {
		merged.Env[k] = v
	}
	for _, opt := range opts {
		opt(&merged)
	}
	if merged.Logger == nil {
		merged.Logger = slog.New(slog.DiscardHandler)
	}
	return &merged
}

func buildEnv(options *Options) []string {
	base := options.BaseEnv
	if base == nil {
		base = os.Environ()
	}
	env := make([]string, 0, len(base)+len(options.Env))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, overridden := options.Env[key]; overridden {
			continue
		}
		env = append(env, kv)
	}
	for _, k := range envKeys(options.Env) {
		env = append(env, k+"="+options.Env[k])
	}
	return env
}

func envKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func teeTo(buf *bytes.Buffer, w io.Writer) io.Writer {
	if w == nil {
		return buf
	}
	return io.MultiWriter(buf, w)
}

// WithWorkingDir sets the working directory.
func WithWorkingDir(dir string) Option {
	return func(o *Options) {
		o.WorkingDir = dir
	}
}

// WithEnv adds environment variables.
func WithEnv(env map[string]string) Option {
	return func(o *Options) {
		if o.Env == nil {
			o.Env = make(map[string]string)
		}
		for k, v := range env {
			o.Env[k] = v
		}
	}
}

// WithBaseEnv replaces the inherited process environment.
func WithBaseEnv(env []string) Option {
	return func(o *Options) {
		o.BaseEnv = env
	}
}

// WithStderrWriter copies standard error to w as well as capturing it.
func WithStderrWriter(w io.Writer) Option {
	return func(o *Options) {
		o.StderrWriter = w
	}
}

// WithLogger sets the logger for command tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}
