package janitor

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dunamismax/cutout/internal/config"
	"github.com/dunamismax/cutout/internal/tempfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepRemovesOnlyStaleScopeFiles(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, tempfile.Prefix+"old.png")
	fresh := filepath.Join(dir, tempfile.Prefix+"new.png")
	foreign := filepath.Join(dir, "keep-me.png")
	for _, p := range []string{stale, fresh, foreign} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))
	}

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))
	require.NoError(t, os.Chtimes(foreign, old, old))

	j, err := New(config.JanitorConfig{Schedule: "@every 10m", MaxAge: time.Hour}, dir, log.New(io.Discard, "", 0))
	require.NoError(t, err)

	assert.Equal(t, 1, j.Sweep())
	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
	assert.FileExists(t, foreign)
}

func TestNewRejectsBadSchedule(t *testing.T) {
	_, err := New(config.JanitorConfig{Schedule: "whenever", MaxAge: time.Hour}, t.TempDir(), log.New(io.Discard, "", 0))
	assert.Error(t, err)

	_, err = New(config.JanitorConfig{Schedule: "@every 1m"}, t.TempDir(), nil)
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	j, err := New(config.JanitorConfig{Schedule: "@every 1h", MaxAge: time.Hour}, t.TempDir(), log.New(io.Discard, "", 0))
	require.NoError(t, err)

	j.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	j.Stop(ctx)
	assert.NoError(t, ctx.Err())
}
