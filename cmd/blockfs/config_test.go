package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dargueta/blockfs"
	"github.com/dargueta/blockfs/drivers/common"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig__Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(
		t,
		&Config{
			Image:     defaultImage,
			Blocks:    defaultBlocks,
			BlockSize: common.DefaultBytesPerBlock,
			LogLevel:  "warning",
		},
		cfg)
}

func TestLoadConfig__File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blockfs.yaml")
	contents := "image: /tmp/disk.bfs\nblock-size: 64\nlog-level: DEBUG\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/disk.bfs", cfg.Image)
	assert.EqualValues(t, 64, cfg.BlockSize)
	assert.EqualValues(t, defaultBlocks, cfg.Blocks, "missing values get defaults")

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, log.DebugLevel, level)
}

func TestLoadConfig__Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, blockfs.ErrIOFailed)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("blocks: [1, 2"), 0o600))
	_, err = LoadConfig(path)
	assert.ErrorIs(t, err, blockfs.ErrInvalidArgument)

	cfg := Config{LogLevel: "loud"}
	_, err = cfg.Level()
	assert.ErrorIs(t, err, blockfs.ErrInvalidArgument)
}
