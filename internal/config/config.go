// Package config carries the explicit kernel configuration. Nothing here is
// a process-wide singleton: cmd wiring loads these structs once and threads
// them through every constructor.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Kernel holds the operational knobs for one authority process. None of
// these fields feed the deterministic state; world-visible tuning lives in
// Tuning.
type Kernel struct {
	Addr        string `yaml:"addr" env:"ADDR"`
	WorldID     string `yaml:"world_id" env:"WORLD_ID"`
	GenesisSeed uint64 `yaml:"genesis_seed" env:"GENESIS_SEED"`
	DataDir     string `yaml:"data_dir" env:"DATA_DIR"`
	TickEveryMs int    `yaml:"tick_every_ms" env:"TICK_EVERY_MS"`
	MaxTicks    uint64 `yaml:"max_ticks" env:"MAX_TICKS"`
	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL"`
}

func KernelDefaults() Kernel {
	return Kernel{
		Addr:        ":8080",
		WorldID:     "world_1",
		GenesisSeed: 1337,
		DataDir:     "./data",
		TickEveryMs: 100,
		LogLevel:    "info",
	}
}

// LoadKernel reads kernel.yaml over the defaults, then applies GW_* env vars
// on top. A missing file is not an error; defaults, env, and cmd flags still
// apply.
func LoadKernel(path string) (Kernel, error) {
	k := KernelDefaults()
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return k, err
	default:
		if err := yaml.Unmarshal(raw, &k); err != nil {
			return k, fmt.Errorf("kernel.yaml: %w", err)
		}
	}
	if err := env.ParseWithOptions(&k, env.Options{Prefix: "GW_"}); err != nil {
		return k, fmt.Errorf("kernel env: %w", err)
	}
	return k, k.Validate()
}

func (k Kernel) Validate() error {
	if k.WorldID == "" {
		return errors.New("config: world_id required")
	}
	if k.TickEveryMs < 0 {
		return fmt.Errorf("config: tick_every_ms %d < 0", k.TickEveryMs)
	}
	return nil
}
