package transform

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewTrigger_ParsesQuotedArgs(t *testing.T) {
	t.Parallel()

	tr, err := NewTrigger(`dbt build --select "tag:bronze staging" --target prod`, "dbt_project", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"dbt", "build", "--select", "tag:bronze staging", "--target", "prod"}, tr.Command())
}

func TestNewTrigger_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewTrigger("   ", "", nil)
	assert.Error(t, err)

	_, err = NewTrigger(`dbt "unterminated`, "", nil)
	assert.Error(t, err)
}

func TestRun_CapturesOutputAndLogs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	core, logs := observer.New(zapcore.DebugLevel)
	tr, err := NewTrigger(`sh -c 'pwd; echo warn 1>&2'`, dir, zap.New(core))
	require.NoError(t, err)

	res, err := tr.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.ExitCode)

	wantDir, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	gotDir, err := filepath.EvalSymlinks(strings.TrimSpace(res.Stdout))
	require.NoError(t, err)
	assert.Equal(t, wantDir, gotDir)
	assert.Equal(t, "warn\n", res.Stderr)

	assert.Equal(t, 1, logs.FilterMessage("warn").Len())
	assert.Equal(t, 1, logs.FilterMessage("transform finished").Len())
}

func TestRun_NonZeroExit(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	tr, err := NewTrigger(`sh -c 'echo broken model 1>&2; exit 3'`, "", zap.New(core))
	require.NoError(t, err)

	res, err := tr.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, IsPermanent(err))

	warns := logs.FilterMessage("transform failed").All()
	require.Len(t, warns, 1)
	assert.Equal(t, "broken model", warns[0].ContextMap()["stderr"])
}

func TestRun_MissingExecutableIsPermanent(t *testing.T) {
	t.Parallel()

	tr, err := NewTrigger("elt-no-such-binary-7f3a build", "", nil)
	require.NoError(t, err)

	res, err := tr.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, -1, res.ExitCode)
	assert.True(t, IsPermanent(err))
}

func TestRun_MissingDirIsPermanent(t *testing.T) {
	t.Parallel()

	tr, err := NewTrigger("true", filepath.Join(t.TempDir(), "missing"), nil)
	require.NoError(t, err)

	_, err = tr.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestRun_WithEnv(t *testing.T) {
	t.Parallel()

	base, err := NewTrigger(`sh -c 'printf %s "$ELT_TARGET"'`, "", nil)
	require.NoError(t, err)

	res, err := base.WithEnv("ELT_TARGET=bronze").Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bronze", res.Stdout)
	assert.Empty(t, base.env)
}

func TestRun_ContextCanceled(t *testing.T) {
	t.Parallel()

	tr, err := NewTrigger("sleep 5", "", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tr.Run(ctx)
	assert.Error(t, err)
}
