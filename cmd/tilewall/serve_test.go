package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/tilewall/internal/config"
)

func TestServeStartsWithDefaultConfig(t *testing.T) {
	prev := serveNoConsole
	serveNoConsole = true
	t.Cleanup(func() { serveNoConsole = prev })

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Discovery.Enabled = false
	cfg.StoragePath = filepath.Join(dir, "tilewall.db")
	cfg.Stream.MediaDir = dir

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, cfg, cancel)
	}()

	select {
	case err := <-done:
		t.Fatalf("serve returned before shutdown: %v", err)
	case <-time.After(300 * time.Millisecond):
	}
	assert.FileExists(t, filepath.Join(dir, "tilewall.lock"))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}
