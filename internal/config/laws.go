package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Law is one governance rule. Expr is a CEL expression over the submitted
// event and acting agent; it must evaluate to bool, and false vetoes the
// event with reason POLICY_<id>.
type Law struct {
	ID      string `yaml:"id"`
	Title   string `yaml:"title"`
	Expr    string `yaml:"expr"`
	Enabled bool   `yaml:"enabled"`
}

// LawSet is the genesis rule book. Runtime LAW_PROPOSAL/VOTE events extend
// it; every change bumps the policy version.
type LawSet struct {
	Version uint64 `yaml:"version"`
	Laws    []Law  `yaml:"laws"`
}

var lawIDRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func LawDefaults() LawSet {
	return LawSet{
		Version: 1,
		Laws: []Law{
			{
				ID:      "spawn_ring_protected",
				Title:   "No mining inside the spawn ring",
				Expr:    "!(event.kind == 'MINE' && event.mine.x * event.mine.x + event.mine.y * event.mine.y <= 4)",
				Enabled: true,
			},
		},
	}
}

func LoadLaws(path string) (LawSet, error) {
	var s LawSet
	raw, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("laws.yaml: %w", err)
	}
	return s, s.Validate()
}

func (s LawSet) Validate() error {
	if s.Version == 0 {
		return fmt.Errorf("laws: version must be > 0")
	}
	seen := make(map[string]bool, len(s.Laws))
	for _, l := range s.Laws {
		if !lawIDRe.MatchString(l.ID) {
			return fmt.Errorf("laws: bad id %q", l.ID)
		}
		if seen[l.ID] {
			return fmt.Errorf("laws: duplicate id %q", l.ID)
		}
		seen[l.ID] = true
		if l.Expr == "" {
			return fmt.Errorf("laws: %s: empty expr", l.ID)
		}
	}
	return nil
}
