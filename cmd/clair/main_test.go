package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/easeaico/ctrl-clair/internal/agents"
	"github.com/easeaico/ctrl-clair/internal/config"
	"github.com/easeaico/ctrl-clair/internal/flux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBuildSystemPrompt(t *testing.T) {
	prompt := buildSystemPrompt(agents.Catalog())

	assert.Contains(t, prompt, "1. Flux Generator (flux)")
	assert.Contains(t, prompt, "2. Clair Core (clair)")
	assert.Contains(t, prompt, "3. Memory Agent (memory)")
	assert.Contains(t, prompt, "search_memory")
}

func TestNewLogger(t *testing.T) {
	l, err := newLogger("warn", false)
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zap.InfoLevel))

	l, err = newLogger("warn", true)
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zap.DebugLevel))

	_, err = newLogger("loud", false)
	assert.Error(t, err)
}

func TestNewApp_SQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := config.Default()
	c.DatabaseURL = filepath.Join(t.TempDir(), "clair.db")

	a, err := newApp(ctx, c, zap.NewNop())
	require.NoError(t, err)

	res := a.dispatcher.ProcessPrompt(ctx, "hello there")
	assert.Equal(t, agents.ClairID, res.Agent.ID)

	gen := a.generator.Generate(ctx, "draw a fox")
	assert.Equal(t, flux.CodeClientInit, gen.Code, "no credentials configured")

	require.NoError(t, a.Close(ctx))

	a, err = newApp(ctx, c, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = a.Close(ctx) }()
	assert.Equal(t, 3, a.graph.Stats(ctx).Total)
}

func TestOpenStore_Unsupported(t *testing.T) {
	c := config.Default()
	c.DBType = "mongo"
	_, err := openStore(context.Background(), c)
	assert.Error(t, err)
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeJSON(&buf, map[string]int{"a": 1}))
	assert.True(t, strings.HasPrefix(buf.String(), "{\n  \"a\": 1"))

	var out map[string]int
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
}
