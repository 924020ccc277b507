package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ActionEnergy pairs the BioVeto threshold with the Commit cost for one
// action kind. Min is exclusive: the action needs energy strictly above it.
type ActionEnergy struct {
	Min  int `yaml:"min"`
	Cost int `yaml:"cost"`
}

type EnergyTuning struct {
	Move    ActionEnergy `yaml:"move"`
	ToolUse ActionEnergy `yaml:"tool_use"`
	Gather  ActionEnergy `yaml:"gather"`
	Mine    ActionEnergy `yaml:"mine"`
	Craft   ActionEnergy `yaml:"craft"`
	Build   ActionEnergy `yaml:"build"`

	RegenEveryTicks uint64 `yaml:"regen_every_ticks"`
	RegenAmount     int    `yaml:"regen_amount"`
}

// Tuning holds the world-visible constants. These feed the deterministic
// state, so two runs must agree on them to agree on hashes; the snapshot
// header and WELCOME params carry the effective values.
type Tuning struct {
	PerceptionRadius   int    `yaml:"perception_radius"`
	WorldBoundaryR     int    `yaml:"world_boundary_r"`
	ClimbLimit         int    `yaml:"climb_limit"`
	ReachLimit         int    `yaml:"reach_limit"`
	SnapshotEveryTicks uint64 `yaml:"snapshot_every_ticks"`

	Energy EnergyTuning `yaml:"energy"`
}

func TuningDefaults() Tuning {
	return Tuning{
		PerceptionRadius:   10,
		WorldBoundaryR:     64,
		ClimbLimit:         2,
		ReachLimit:         5,
		SnapshotEveryTicks: 100,
		Energy: EnergyTuning{
			Move:            ActionEnergy{Min: 10, Cost: 1},
			ToolUse:         ActionEnergy{Min: 5, Cost: 2},
			Gather:          ActionEnergy{Min: 8, Cost: 5},
			Mine:            ActionEnergy{Min: 8, Cost: 5},
			Craft:           ActionEnergy{Min: 5, Cost: 5},
			Build:           ActionEnergy{Min: 10, Cost: 10},
			RegenEveryTicks: 10,
			RegenAmount:     1,
		},
	}
}

func LoadTuning(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, t.Validate()
}

func (t Tuning) Validate() error {
	if t.PerceptionRadius <= 0 {
		return fmt.Errorf("tuning: perception_radius %d <= 0", t.PerceptionRadius)
	}
	if t.WorldBoundaryR <= 0 {
		return fmt.Errorf("tuning: world_boundary_r %d <= 0", t.WorldBoundaryR)
	}
	if t.ClimbLimit < 0 {
		return fmt.Errorf("tuning: climb_limit %d < 0", t.ClimbLimit)
	}
	if t.ReachLimit <= 0 {
		return fmt.Errorf("tuning: reach_limit %d <= 0", t.ReachLimit)
	}
	if t.SnapshotEveryTicks == 0 {
		return fmt.Errorf("tuning: snapshot_every_ticks must be > 0")
	}
	return nil
}
