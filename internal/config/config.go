// Package config loads and validates the TOML configuration document
// spec.md §6 defines.
//
// Grounded on original_source/config.py (pyserde dataclasses): the same
// section names, field names, and defaults are reproduced here, expressed
// with github.com/BurntSushi/toml for parsing and github.com/creasty/defaults
// for the struct-tag default values pyserde's `field(default=...)` plays
// in the original.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/creasty/defaults"

	"github.com/afics/vmrebalance/internal/rebalance"
)

// ErrConfigInvalid is re-exported for convenience so callers that only
// import internal/config don't also need internal/rebalance.
var ErrConfigInvalid = rebalance.ErrConfigInvalid

// Vm2VmAffinityType is the relationship a vm-to-vm affinity rule enforces.
type Vm2VmAffinityType string

const (
	KeepTogether Vm2VmAffinityType = "keep-together"
	KeepApart    Vm2VmAffinityType = "keep-apart"
)

// Vm2HostAffinityType is the relationship a vm-to-host affinity rule enforces.
type Vm2HostAffinityType string

const (
	RunHere      Vm2HostAffinityType = "run-here"
	RunElsewhere Vm2HostAffinityType = "run-elsewhere"
)

// General holds connection details for the hypervisor API client.
type General struct {
	Host      string `toml:"host"`
	User      string `toml:"user"`
	Password  string `toml:"password"`
	VerifySSL bool   `toml:"verify_ssl" default:"true"`
}

// Model holds knobs for the cost model's integer scaling.
type Model struct {
	MemoryPrecision int64 `toml:"memory_precision" default:"1048576"`
}

// Solver holds the solver driver's time budget and worker count.
type Solver struct {
	MaxTimeInSeconds int `toml:"max_time_in_seconds" default:"10"`
	NumSearchWorkers int `toml:"num_search_workers" default:"1"`
}

// Migration holds knobs consumed by the external migration executor, not
// the core solver.
type Migration struct {
	MaxMigrationsPerHost int `toml:"max_migrations_per_host" default:"3"`
}

// Maintenance lists nodes excluded from placement and from cluster totals.
type Maintenance struct {
	Nodes []string `toml:"nodes"`
}

// Vm2VmAffinityRule constrains the relative placement of a set of VMs.
type Vm2VmAffinityRule struct {
	Name    string            `toml:"name"`
	Comment string            `toml:"comment"`
	Enabled bool              `toml:"enabled" default:"true"`
	Type    Vm2VmAffinityType `toml:"type" default:"keep-apart"`
	VMs     []int             `toml:"vms"`
}

// Vm2HostAffinityRule constrains a set of VMs to (or away from) a set of
// nodes.
type Vm2HostAffinityRule struct {
	Name    string              `toml:"name"`
	Comment string              `toml:"comment"`
	Nodes   []string            `toml:"nodes"`
	Enabled bool                `toml:"enabled" default:"true"`
	Type    Vm2HostAffinityType `toml:"type" default:"run-here"`
	VMs     []int               `toml:"vms"`
}

// AffinityRules groups the two rule families.
type AffinityRules struct {
	VMToVM   []Vm2VmAffinityRule   `toml:"vm-to-vm"`
	VMToHost []Vm2HostAffinityRule `toml:"vm-to-host"`
}

// Config is the full document spec.md §6 enumerates.
type Config struct {
	General       General       `toml:"general"`
	Model         Model         `toml:"model"`
	Solver        Solver        `toml:"solver"`
	Migration     Migration     `toml:"migration"`
	Maintenance   Maintenance   `toml:"maintenance"`
	AffinityRules AffinityRules `toml:"affinity-rules"`
}

// Load reads and parses a TOML configuration document, applying defaults
// for any field the document omits and validating enum values. A malformed
// document or an unknown enum value is a ConfigInvalid error (spec.md §7).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w: reading %s: %v", ErrConfigInvalid, path, err)
	}
	return Parse(data)
}

// rawAffinityRules mirrors the affinity-rules TOML tables as untyped maps
// so Parse can tell an explicit "enabled = false" apart from an omitted
// key, which defaults.Set cannot (false is bool's zero value).
type rawAffinityRules struct {
	AffinityRules struct {
		VMToVM   []map[string]interface{} `toml:"vm-to-vm"`
		VMToHost []map[string]interface{} `toml:"vm-to-host"`
	} `toml:"affinity-rules"`
}

// Parse decodes TOML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("config: %w: %v", ErrConfigInvalid, err)
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w: applying defaults: %v", ErrConfigInvalid, err)
	}

	// defaults.Set cannot distinguish an omitted "enabled" key from an
	// explicit "enabled = false", since false is bool's zero value; it
	// would otherwise silently force every rule back to enabled. Re-read
	// the document untyped and restore any explicit false.
	var raw rawAffinityRules
	if _, err := toml.Decode(string(data), &raw); err == nil {
		for i, m := range raw.AffinityRules.VMToVM {
			if i >= len(cfg.AffinityRules.VMToVM) {
				break
			}
			if v, ok := m["enabled"].(bool); ok {
				cfg.AffinityRules.VMToVM[i].Enabled = v
			}
		}
		for i, m := range raw.AffinityRules.VMToHost {
			if i >= len(cfg.AffinityRules.VMToHost) {
				break
			}
			if v, ok := m["enabled"].(bool); ok {
				cfg.AffinityRules.VMToHost[i].Enabled = v
			}
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	for _, r := range c.AffinityRules.VMToVM {
		switch r.Type {
		case KeepTogether, KeepApart, "":
		default:
			return fmt.Errorf("config: %w: unknown vm-to-vm affinity type %q", ErrConfigInvalid, r.Type)
		}
	}
	for _, r := range c.AffinityRules.VMToHost {
		switch r.Type {
		case RunHere, RunElsewhere, "":
		default:
			return fmt.Errorf("config: %w: unknown vm-to-host affinity type %q", ErrConfigInvalid, r.Type)
		}
	}
	if c.Model.MemoryPrecision <= 0 {
		return fmt.Errorf("config: %w: model.memory_precision must be positive", ErrConfigInvalid)
	}
	return nil
}
