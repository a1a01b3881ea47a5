package jsonsafe

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap(t *testing.T) {
	in := map[string]any{
		"agentId": "flux",
		"count":   3,
		"fn":      func() {},
		"ch":      make(chan int),
		"nan":     math.NaN(),
		"nested":  map[string]any{"ok": true, "bad": func(int) {}},
		"list":    []any{"a", make(chan bool)},
	}

	out := Map(in)

	_, err := json.Marshal(out)
	require.NoError(t, err)
	assert.Equal(t, "flux", out["agentId"])
	assert.Equal(t, 3, out["count"])
	assert.Equal(t, Placeholder, out["fn"])
	assert.Equal(t, Placeholder, out["ch"])
	assert.Equal(t, "NaN", out["nan"])
	assert.Equal(t, map[string]any{"ok": true, "bad": Placeholder}, out["nested"])
	assert.Equal(t, []any{"a", Placeholder}, out["list"])
}

func TestMapNil(t *testing.T) {
	assert.Nil(t, Map(nil))
}

func TestString(t *testing.T) {
	assert.Equal(t, `{"a":1}`, String(map[string]any{"a": 1}))
	assert.Equal(t, `"[unserializable]"`, String(func() {}))
}

func TestValue_Cycle(t *testing.T) {
	m := map[string]any{"name": "loop"}
	m["self"] = m

	out := Map(m)

	_, err := json.Marshal(out)
	require.NoError(t, err)
	assert.Equal(t, "loop", out["name"])
}
