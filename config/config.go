// Package config loads northfs settings from an optional YAML file,
// overlaid by NORTHFS_* environment variables.
package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"github.com/northos/northfs/common"
	"github.com/northos/northfs/fs"
)

const (
	envVarPrefix = "NORTHFS"
	appName      = "northfs"

	DefaultBlocks uint64 = 4096
	DefaultImage         = "northfs.img"
)

type Config struct {
	Image       string `envconfig:"NORTHFS_IMAGE"        yaml:"image"`
	Blocks      uint64 `envconfig:"NORTHFS_BLOCKS"       yaml:"blocks"`
	Inodes      uint64 `envconfig:"NORTHFS_INODES"       yaml:"inodes"`
	CacheInodes uint64 `envconfig:"NORTHFS_CACHE_INODES" yaml:"cacheInodes"`
	CacheBlocks uint64 `envconfig:"NORTHFS_CACHE_BLOCKS" yaml:"cacheBlocks"`
	LogLevel    string `envconfig:"NORTHFS_LOG_LEVEL"    yaml:"logLevel"`
}

func configFile() string {
	if f := os.Getenv(envVarPrefix + "_CONFIG_FILE"); f != "" {
		return f
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", appName+".yaml")
}

// Load reads the config file (if any), then the environment, then fills in
// defaults for anything still unset.
func Load() (*Config, error) {
	var c Config
	if path := configFile(); path != "" {
		data, err := ioutil.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		} else if err := yaml.UnmarshalStrict(data, &c); err != nil {
			return nil, fmt.Errorf("unmarshaling config file: %w", err)
		}
	}

	if err := envconfig.Process(envVarPrefix, &c); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}
	c.setDefaults()
	return &c, nil
}

func (c *Config) setDefaults() {
	if c.Image == "" {
		c.Image = DefaultImage
	}
	if c.Blocks == 0 {
		c.Blocks = DefaultBlocks
	}
	if c.Inodes == 0 {
		c.Inodes = common.NINODES
	}
	if c.CacheInodes == 0 {
		c.CacheInodes = common.NINODE
	}
	if c.CacheBlocks == 0 {
		c.CacheBlocks = fs.DefaultCacheBlocks
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) Validate() error {
	if c.Image == "" {
		return fmt.Errorf("missing required config: image (env: %s_IMAGE)", envVarPrefix)
	}
	if c.Inodes < 2 || c.Inodes > common.MAXINODES {
		return fmt.Errorf("inodes: need between 2 and %d, got %d", common.MAXINODES, c.Inodes)
	}
	if c.CacheInodes < 2 {
		return fmt.Errorf("cacheInodes: need at least 2, got %d", c.CacheInodes)
	}
	if c.CacheBlocks < common.MAXOPBLOCKS {
		return fmt.Errorf("cacheBlocks: need at least %d, got %d", common.MAXOPBLOCKS, c.CacheBlocks)
	}
	return nil
}

// MountOptions are the cache sizes for fs.Mount.
func (c *Config) MountOptions() fs.Options {
	return fs.Options{CacheInodes: c.CacheInodes, CacheBlocks: c.CacheBlocks}
}
