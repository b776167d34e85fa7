package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	HTTP struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"http"`
	Stream string `mapstructure:"stream"`
}

func (s *sample) Normalize() {
	if s.Stream == "" {
		s.Stream = "default-stream"
	}
}

func TestLoad_FileAndDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unit-svc.yaml"), []byte("http:\n  addr: \":9000\"\n"), 0o644))

	var cfg sample
	_, err := Load("unit-svc", &cfg, dir)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, "default-stream", cfg.Stream)
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	var cfg sample
	v, err := Load("does-not-exist", &cfg, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "", v.ConfigFileUsed())
	assert.Equal(t, "default-stream", cfg.Stream)
}
