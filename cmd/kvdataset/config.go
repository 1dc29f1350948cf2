package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/kjk/kvdataset/dataset"
	"github.com/kjk/kvdataset/kvstore"
	"github.com/kjk/kvdataset/scan"
	"github.com/tailscale/hujson"
)

// ConfigFileName is the config file looked up in the working directory
const ConfigFileName = "kvdataset.json"

var (
	errConfigFileNotFound = errors.New("config file not found")
	errConfigInvalid      = errors.New("invalid config")
)

// Config holds options that can be set in a config file and overridden
// with command line flags
type Config struct {
	Extensions  []string `json:"extensions,omitempty"`
	BufferSize  int      `json:"buffer_size,omitempty"`
	Format      string   `json:"format,omitempty"`
	Compression string   `json:"compression,omitempty"`
	NoOverwrite bool     `json:"no_overwrite,omitempty"`
	LogDir      string   `json:"log_dir,omitempty"`
	Verbose     bool     `json:"verbose,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Extensions:  slices.Clone(scan.DefaultExtensions),
		BufferSize:  dataset.DefaultBufferSize,
		Format:      string(dataset.FormatKV),
		Compression: "none",
	}
}

// resolvePath makes a relative path relative to workDir
func resolvePath(workDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workDir, path)
}

// LoadConfig returns defaults overridden by the config file.
// An explicit configPath must exist, the default one is optional
func LoadConfig(workDir, configPath string) (Config, string, error) {
	cfg := DefaultConfig()
	path := configPath
	mustExist := path != ""
	if path == "" {
		path = ConfigFileName
	}
	path = resolvePath(workDir, path)

	d, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return cfg, "", nil
		}
		if os.IsNotExist(err) {
			return cfg, "", fmt.Errorf("%w: %s", errConfigFileNotFound, configPath)
		}
		return cfg, "", err
	}
	if err = parseConfig(d, &cfg); err != nil {
		return cfg, "", fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}
	return cfg, path, nil
}

// parseConfig decodes JSONC over cfg so that missing keys keep their values
func parseConfig(d []byte, cfg *Config) error {
	standardized, err := hujson.Standardize(d)
	if err != nil {
		return fmt.Errorf("invalid JSONC: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()
	if err = dec.Decode(cfg); err != nil {
		return err
	}
	return nil
}

// validate checks values and returns them parsed
func (c *Config) validate() (dataset.Format, kvstore.Compression, error) {
	if c.BufferSize <= 0 {
		return "", 0, fmt.Errorf("buffer size must be positive, got %d", c.BufferSize)
	}
	if len(c.Extensions) == 0 {
		return "", 0, errors.New("no file extensions")
	}
	for _, ext := range c.Extensions {
		if strings.TrimSpace(strings.TrimPrefix(ext, ".")) == "" {
			return "", 0, fmt.Errorf("invalid extension '%s'", ext)
		}
	}
	format, err := dataset.ParseFormat(c.Format)
	if err != nil {
		return "", 0, err
	}
	compression, err := kvstore.ParseCompression(c.Compression)
	if err != nil {
		return "", 0, err
	}
	if compression != kvstore.CompressionNone && format != dataset.FormatKV {
		return "", 0, fmt.Errorf("compression is only supported by format '%s'", dataset.FormatKV)
	}
	return format, compression, nil
}
