// Package config reads modvm.toml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"modvm/internal/trace"
	"modvm/internal/types"
)

// FileName is the config file looked up from the working directory upward.
const FileName = "modvm.toml"

// Config is the decoded file. Zero values mean "use the default".
type Config struct {
	Storage StorageConfig `toml:"storage"`
	VM      VMConfig      `toml:"vm"`
	Trace   TraceConfig   `toml:"trace"`
	Prewarm PrewarmConfig `toml:"prewarm"`

	// Path is where the file was found, empty for defaults.
	Path string `toml:"-"`
}

type StorageConfig struct {
	// Dir holds the disk store. Relative paths are resolved against the
	// directory of the config file. MemoryDir keeps state in memory.
	Dir string `toml:"dir"`
}

// MemoryDir as [storage].dir selects the in-memory store.
const MemoryDir = ":memory:"

// DefaultStorageDir is used when no config file names one.
const DefaultStorageDir = ".modvm"

type VMConfig struct {
	MaxCallDepth int    `toml:"max_call_depth"`
	GasLimit     uint64 `toml:"gas_limit"` // 0 = unmetered
	StdAddress   string `toml:"std_address"`
}

type TraceConfig struct {
	Level    string `toml:"level"`
	Mode     string `toml:"mode"`
	Output   string `toml:"output"`
	RingSize int    `toml:"ring_size"`
}

type PrewarmConfig struct {
	Jobs int `toml:"jobs"`
}

// Default is what a missing file means.
func Default() Config {
	return Config{
		Storage: StorageConfig{Dir: DefaultStorageDir},
		VM: VMConfig{
			MaxCallDepth: 256,
			GasLimit:     1_000_000,
			StdAddress:   "0x1",
		},
		Trace: TraceConfig{
			Level:    "off",
			Mode:     "stream",
			Output:   "-",
			RingSize: 1024,
		},
	}
}

// Find walks up from startDir looking for modvm.toml.
func Find(startDir string) (path string, ok bool, err error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Discover finds and loads the nearest modvm.toml, or returns the defaults
// when there is none.
func Discover(startDir string) (Config, error) {
	path, ok, err := Find(startDir)
	if err != nil {
		return Config{}, err
	}
	if !ok {
		return Default(), nil
	}
	return Load(path)
}

// Load decodes path over the defaults and validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%s: unknown key %s", path, undecoded[0])
	}
	if meta.IsDefined("storage") && (!meta.IsDefined("storage", "dir") || strings.TrimSpace(cfg.Storage.Dir) == "") {
		return Config{}, fmt.Errorf("%s: missing [storage].dir", path)
	}
	if cfg.Storage.Dir != MemoryDir && !filepath.IsAbs(cfg.Storage.Dir) {
		cfg.Storage.Dir = filepath.Join(filepath.Dir(path), cfg.Storage.Dir)
	}
	if cfg.VM.MaxCallDepth <= 0 {
		return Config{}, fmt.Errorf("%s: [vm].max_call_depth must be positive", path)
	}
	if _, err := types.ParseAddress(cfg.VM.StdAddress); err != nil {
		return Config{}, fmt.Errorf("%s: [vm].std_address: %w", path, err)
	}
	if _, err := trace.ParseLevel(cfg.Trace.Level); err != nil {
		return Config{}, fmt.Errorf("%s: [trace].level: %w", path, err)
	}
	if _, err := trace.ParseMode(cfg.Trace.Mode); err != nil {
		return Config{}, fmt.Errorf("%s: [trace].mode: %w", path, err)
	}
	if cfg.Prewarm.Jobs < 0 {
		return Config{}, fmt.Errorf("%s: [prewarm].jobs must not be negative", path)
	}
	cfg.Path = path
	return cfg, nil
}

// StdAddress is the parsed [vm].std_address.
func (c Config) StdAddress() types.Address {
	a, err := types.ParseAddress(c.VM.StdAddress)
	if err != nil {
		return types.AddressOne
	}
	return a
}
