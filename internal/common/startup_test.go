package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Port    int
	Timeout time.Duration
	Nested  struct {
		Name string
		Size int
	}
}

func writeFile(t *testing.T, path, content string) {
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestReadConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.yaml"), "port: 8080\ntimeout: 5s\nnested:\n  name: base\n  size: 1\n")
	override := filepath.Join(dir, "override.yaml")
	writeFile(t, override, "nested:\n  size: 7\n")

	var config testConfig
	_, err := ReadConfig(&config, dir, []string{override})
	require.NoError(t, err)

	assert.Equal(t, 8080, config.Port)
	assert.Equal(t, 5*time.Second, config.Timeout)
	assert.Equal(t, "base", config.Nested.Name)
	assert.Equal(t, 7, config.Nested.Size)
}

func TestReadConfig_Errors(t *testing.T) {
	var config testConfig
	_, err := ReadConfig(&config, t.TempDir(), nil)
	assert.Error(t, err)

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.yaml"), "port: 1\n")
	_, err = ReadConfig(&config, dir, []string{filepath.Join(dir, "missing.yaml")})
	assert.Error(t, err)
}
