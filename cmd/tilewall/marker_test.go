package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/tilewall/internal/config"
	"github.com/codefionn/tilewall/internal/marker"
)

func TestOpenCodecUsesConfiguredDictionary(t *testing.T) {
	cfg := config.DefaultConfig()

	dict, err := openDictionary(cfg)
	require.NoError(t, err)
	assert.Same(t, marker.Builtin(), dict)

	path := filepath.Join(t.TempDir(), "dict.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		[128,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,2,0,0,0],
		[64,0,0,0,128,0,0,0,0,0,0,0,0,0,0,0,8,0,0,0]
	]`), 0644))
	cfg.Server.MarkerDictionary = path

	codec, err := openCodec(cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, codec.Len())

	cfg.Server.MarkerDictionary = filepath.Join(t.TempDir(), "missing.json")
	_, err = openCodec(cfg)
	assert.Error(t, err)
}
