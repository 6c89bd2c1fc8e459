package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sh00ty/fleet-upgrader/internal/instructions"
)

func TestLoadInstructions(t *testing.T) {
	var (
		dir      = t.TempDir()
		filename = filepath.Join(dir, "upgrade.json")
	)
	require.NoError(t, os.WriteFile(filename, []byte(`{
  "rolling_rules": {"global": 1},
  "role_dependencies": {"st": ["ocdb"]}
}`), 0o600))

	t.Run("file fills missing fields", func(t *testing.T) {
		instr, err := loadInstructions(filename, `{"rolling_rules": {"global": 3}}`)
		require.NoError(t, err)
		require.NotNil(t, instr.RollingRules.Global)
		assert.Equal(t, 3, *instr.RollingRules.Global)
		assert.Equal(t, []string{"ocdb"}, instr.RoleDependencies["st"])
	})

	t.Run("missing file", func(t *testing.T) {
		instr, err := loadInstructions(filepath.Join(dir, "absent.json"), "")
		require.NoError(t, err)
		assert.Nil(t, instr.RollingRules)
	})

	t.Run("unknown instruction", func(t *testing.T) {
		_, err := loadInstructions(filename, `{"rolling_rule": {"global": 3}}`)
		assert.ErrorIs(t, err, instructions.ErrUnknownInstruction)
	})
}

func TestLoggerLevelFromString(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, loggerLevelFromString("debug"))
	assert.Equal(t, zerolog.WarnLevel, loggerLevelFromString("WARN"))
	assert.Equal(t, zerolog.WarnLevel, loggerLevelFromString("nonsense"))
}

func TestReleaseDetached(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	releaseDetached(ctx, func(releaseCtx context.Context) {
		called = true
		assert.NoError(t, releaseCtx.Err())
		_, hasDeadline := releaseCtx.Deadline()
		assert.True(t, hasDeadline)
	})
	assert.True(t, called)
}
