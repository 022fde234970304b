package main

import (
	"os"
	"strings"

	"github.com/dargueta/blockfs"
	"github.com/dargueta/blockfs/drivers/common"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds the settings of the command line tool. Values given on the
// command line take precedence over values from the config file.
type Config struct {
	Image     string `yaml:"image"`
	Blocks    uint   `yaml:"blocks"`     // only used when creating an image
	BlockSize uint   `yaml:"block-size"` // only used when creating an image
	LogLevel  string `yaml:"log-level"`  // any level logrus understands
}

const defaultImage = "blockfs.img"
const defaultBlocks = 1024

// ApplyDefaults fills zero-value fields with their defaults.
func (cfg *Config) ApplyDefaults() {
	if cfg.Image == "" {
		cfg.Image = defaultImage
	}
	if cfg.Blocks == 0 {
		cfg.Blocks = defaultBlocks
	}
	if cfg.BlockSize == 0 {
		cfg.BlockSize = common.DefaultBytesPerBlock
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "warning"
	}
}

// Level returns the logrus level named by LogLevel.
func (cfg *Config) Level() (log.Level, error) {
	level, err := log.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		return log.WarnLevel, blockfs.ErrInvalidArgument.Wrap(err)
	}
	return level, nil
}

// LoadConfig reads the config file at `path`. An empty path gives the default
// configuration.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, blockfs.ErrIOFailed.Wrap(err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, blockfs.ErrInvalidArgument.Wrap(err).WithMessage(path)
		}
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}
