package executor_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-libs/gitclient/internal/executor"
)

func requireSh(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skipf("sh not available: %v", err)
	}
}

func TestProgram_Run(t *testing.T) {
	requireSh(t)
	sh := executor.New("sh")

	result, err := sh.Run(context.Background(), []string{"-c", "echo out; echo err >&2"})
	require.NoError(t, err)
	assert.Equal(t, "out\n", result.Stdout)
	assert.Equal(t, "err\n", result.Stderr)
	assert.Equal(t, 0, result.ExitCode)
}

func TestProgram_ExitError(t *testing.T) {
	requireSh(t)
	sh := executor.New("sh")

	result, err := sh.Run(context.Background(), []string{"-c", "echo 'fatal: repository not found' >&2; exit 128"})
	require.Error(t, err)

	var exitErr *executor.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 128, exitErr.ExitCode)
	assert.Equal(t, 128, result.ExitCode)
	assert.Contains(t, err.Error(), "repository not found")
	assert.Contains(t, err.Error(), "exit status 128")
}

func TestProgram_Env(t *testing.T) {
	requireSh(t)
	sh := executor.New("sh", executor.WithEnv(map[string]string{"BASE_VAR": "base"}))

	result, err := sh.Run(context.Background(),
		[]string{"-c", `echo "$BASE_VAR $CUSTOM_VAR $PATH_ONLY"`},
		executor.WithBaseEnv([]string{"PATH_ONLY=inherited", "CUSTOM_VAR=stale"}),
		executor.WithEnv(map[string]string{"CUSTOM_VAR": "fresh"}),
	)
	require.NoError(t, err)
	assert.Equal(t, "base fresh inherited", strings.TrimSpace(result.Stdout))
}

func TestProgram_OptionsDoNotLeakBetweenRuns(t *testing.T) {
	requireSh(t)
	sh := executor.New("sh")

	_, err := sh.Run(context.Background(), []string{"-c", "true"}, executor.WithEnv(map[string]string{"ONE_OFF": "x"}))
	require.NoError(t, err)

	result, err := sh.Run(context.Background(), []string{"-c", `echo "[$ONE_OFF]"`},
		executor.WithBaseEnv([]string{}))
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(result.Stdout))
}

func TestProgram_WorkingDir(t *testing.T) {
	requireSh(t)
	dir := t.TempDir()
	sh := executor.New("sh")

	result, err := sh.Run(context.Background(), []string{"-c", "pwd"}, executor.WithWorkingDir(dir))
	require.NoError(t, err)
	assert.Contains(t, result.Stdout, dir)
}

func TestProgram_StreamsOutput(t *testing.T) {
	requireSh(t)
	var stderr bytes.Buffer
	sh := executor.New("sh")

	result, err := sh.Run(context.Background(), []string{"-c", "echo progress >&2"},
		executor.WithStderrWriter(&stderr))
	require.NoError(t, err)
	assert.Equal(t, "progress\n", stderr.String())
	assert.Equal(t, "progress\n", result.Stderr)
}

func TestProgram_ContextCancellation(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skipf("sleep not available: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := executor.New("sleep").Run(ctx, []string{"5"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestProgram_LogsEnvKeysOnly(t *testing.T) {
	requireSh(t)
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sh := executor.New("sh", executor.WithLogger(logger))

	_, err := sh.Run(context.Background(), []string{"-c", "true"},
		executor.WithEnv(map[string]string{"GIT_CONFIG_VALUE_0": "Authorization: Basic c2VjcmV0"}))
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "GIT_CONFIG_VALUE_0")
	assert.NotContains(t, logs.String(), "c2VjcmV0")
}
