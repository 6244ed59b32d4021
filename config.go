package hleruntime

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/mem"
)

// FaultPolicy decides what a fatal fault does to the process.
type FaultPolicy string

const (
	// PolicyAbort reports the fault and exits the process.
	PolicyAbort FaultPolicy = "abort"
	// PolicyThread reports the fault and ends only the current guest thread.
	PolicyThread FaultPolicy = "thread"
)

// Config is the environment configuration, usually loaded from TOML:
//
//	[memory]
//	size = 67108864
//	backend = "mmap"
//	null_page = 4096
//
//	[faults]
//	policy = "abort"
//	crash_dir = "/tmp/crashes"
//
//	[log]
//	level = "debug"
//	development = true
type Config struct {
	Memory MemoryConfig `toml:"memory"`
	Faults FaultsConfig `toml:"faults"`
	Log    LogConfig    `toml:"log"`
}

// MemoryConfig configures the guest address space.
type MemoryConfig struct {
	Backend  string `toml:"backend"`
	Size     uint64 `toml:"size"`
	NullPage uint32 `toml:"null_page"`
}

// FaultsConfig configures fault handling.
type FaultsConfig struct {
	Policy   FaultPolicy `toml:"policy"`
	CrashDir string      `toml:"crash_dir"`
}

// LogConfig configures the environment's logger.
type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		Memory: MemoryConfig{
			Backend:  string(mem.BackendHeap),
			Size:     mem.DefaultSize,
			NullPage: mem.DefaultNullPageSize,
		},
		Faults: FaultsConfig{Policy: PolicyAbort},
		Log:    LogConfig{Level: "info"},
	}
}

// LoadConfig reads a TOML file over the defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "read "+path)
	}
	cfg, err := ParseConfig(string(data))
	if err != nil {
		return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "load "+path)
	}
	return cfg, nil
}

// ParseConfig parses TOML text over the defaults. Unknown keys are errors.
func ParseConfig(text string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.Decode(text, &cfg)
	if err != nil {
		return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "parse config")
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return Config{}, errors.InvalidInput(errors.PhaseConfig, "unknown config keys: "+strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch mem.BackendKind(c.Memory.Backend) {
	case "", mem.BackendHeap, mem.BackendMmap, mem.BackendWazero:
	default:
		return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("unknown memory backend %q", c.Memory.Backend))
	}
	if c.Memory.Size > mem.MaxSize {
		return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("memory size %d exceeds the 32-bit guest space", c.Memory.Size))
	}
	if c.Memory.Size != 0 && uint64(c.Memory.NullPage) >= c.Memory.Size {
		return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("null page %#x does not fit in %d bytes", c.Memory.NullPage, c.Memory.Size))
	}

	switch c.Faults.Policy {
	case PolicyAbort, PolicyThread:
	default:
		return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("unknown fault policy %q", c.Faults.Policy))
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log level")
	}
	return nil
}
