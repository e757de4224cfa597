package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lazyclaw/lazyops/internal/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Equal(t, "lazyops dev\n", out.String())
}

func TestTailAgainstMock(t *testing.T) {
	opts := &rootOptions{configPath: filepath.Join(t.TempDir(), "config.yml"), mock: true}
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	assert.NoError(t, runTail(ctx, opts, "mock", realtime.Query{}))
}

func TestTailRejectsUnknownInstance(t *testing.T) {
	opts := &rootOptions{configPath: filepath.Join(t.TempDir(), "config.yml"), mock: true}
	err := runTail(context.Background(), opts, "prod", realtime.Query{})
	assert.ErrorContains(t, err, `unknown instance "prod"`)
}

func TestTailNeedsAnInstance(t *testing.T) {
	opts := &rootOptions{configPath: filepath.Join(t.TempDir(), "config.yml")}
	err := runTail(context.Background(), opts, "", realtime.Query{})
	assert.ErrorContains(t, err, "no instances configured")
}
