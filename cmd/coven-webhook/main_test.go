// ABOUTME: Tests for CLI helpers and the offline tenants/get commands
// ABOUTME: Uses temp config files and real SQLite stores

package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-webhook/internal/config"
	"github.com/2389/coven-webhook/internal/kv"
)

func writeConfig(t *testing.T, basePath string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "webhook.yaml")
	content := fmt.Sprintf("storage:\n  base_path: %q\nlogging:\n  level: error\n", basePath)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func seed(t *testing.T, basePath, tenantID, key, value string) {
	t.Helper()
	engine, err := kv.OpenSQLite(filepath.Join(basePath, tenantID))
	require.NoError(t, err)
	require.NoError(t, engine.Set(context.Background(), key, value))
	require.NoError(t, engine.Close())
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("COVEN_WEBHOOK_CONFIG", "/etc/coven/webhook.toml")

	assert.Equal(t, "explicit.yaml", resolveConfigPath([]string{"explicit.yaml"}))
	assert.Equal(t, "/etc/coven/webhook.toml", resolveConfigPath(nil))
}

func TestDefaultConfigPath(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("COVEN_WEBHOOK_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", xdg)

	assert.Empty(t, defaultConfigPath(), "missing default file means env-only")

	path := filepath.Join(xdg, "coven", "webhook.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o600))
	assert.Equal(t, path, defaultConfigPath())
}

func TestHealthURL(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"0.0.0.0:8080", "http://127.0.0.1:8080/health"},
		{":9000", "http://127.0.0.1:9000/health"},
		{"10.0.0.5:8080", "http://10.0.0.5:8080/health"},
	}

	for _, tt := range tests {
		cfg := config.Default()
		cfg.Server.HTTPAddr = tt.addr
		assert.Equal(t, tt.want, healthURL(cfg), tt.addr)
	}
}

func TestRunTenants(t *testing.T) {
	base := t.TempDir()
	seed(t, base, "42", "1", "hello")
	seed(t, base, "-100", "1", "group")
	require.NoError(t, os.WriteFile(filepath.Join(base, "stray.txt"), nil, 0o600))

	var out bytes.Buffer
	require.NoError(t, runTenants(&out, []string{writeConfig(t, base)}))
	assert.Equal(t, []string{"-100", "42"}, strings.Fields(out.String()))
}

func TestRunGet(t *testing.T) {
	base := t.TempDir()
	seed(t, base, "42", "7", "hello")
	cfgPath := writeConfig(t, base)

	var out bytes.Buffer
	require.NoError(t, runGet(context.Background(), &out, []string{cfgPath, "42", "7"}))
	assert.Equal(t, "hello\n", out.String())

	err := runGet(context.Background(), &out, []string{cfgPath, "42", "8"})
	assert.ErrorContains(t, err, "no message 8")

	err = runGet(context.Background(), &out, []string{cfgPath, "99", "7"})
	assert.ErrorContains(t, err, "no store")
	assert.NoDirExists(t, filepath.Join(base, "99"), "get must not create tenants")

	err = runGet(context.Background(), &out, []string{cfgPath, "../etc", "7"})
	assert.Error(t, err)

	err = runGet(context.Background(), &out, []string{"42"})
	assert.ErrorContains(t, err, "usage")
}

func TestRunKeys(t *testing.T) {
	base := t.TempDir()
	seed(t, base, "42", "9", "later")
	seed(t, base, "42", "10", "first")
	cfgPath := writeConfig(t, base)

	var out bytes.Buffer
	require.NoError(t, runKeys(context.Background(), &out, []string{cfgPath, "42"}))
	assert.Equal(t, []string{"10", "9"}, strings.Fields(out.String()))

	err := runKeys(context.Background(), &out, []string{cfgPath, "99"})
	assert.ErrorContains(t, err, "no store")
	assert.NoDirExists(t, filepath.Join(base, "99"))

	err = runKeys(context.Background(), &out, nil)
	assert.ErrorContains(t, err, "usage")
}

func TestColorHandler(t *testing.T) {
	var out bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "warn", Format: "text"}, &out)

	logger.Info("hidden")
	logger.With("component", "tenant-router").Warn("opened", "tenant", "42")

	line := out.String()
	assert.NotContains(t, line, "hidden")
	assert.Contains(t, line, "opened")
	assert.Contains(t, line, "component=")
	assert.Contains(t, line, "tenant-router")
	assert.Contains(t, line, "42")
}

func TestJSONLogger(t *testing.T) {
	var out bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &out)

	logger.Debug("stored", "update_id", 5)
	assert.Contains(t, out.String(), `"update_id":5`)
}
