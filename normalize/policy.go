package normalize

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Policy holds the tunable heuristics of the normalizer. None of the
// thresholds are authoritative, so they can be overridden from a YAML file.
type Policy struct {
	RepairEncoding   bool     `yaml:"repairEncoding"`
	AddressCleanup   bool     `yaml:"addressCleanup"`
	KeepDisplayNames bool     `yaml:"keepDisplayNames"`
	StripTags        bool     `yaml:"stripTags"`
	RecipientLimit   int      `yaml:"recipientLimit"`
	MojibakeMarkers  []string `yaml:"mojibakeMarkers"`
	// DateLayouts are tried before the built-in layouts. The built-in slash
	// layouts are day first; add e.g. "01/02/2006 15:04" for month-first data.
	DateLayouts []string `yaml:"dateLayouts"`
	MinYear     int      `yaml:"minYear"`
	MaxYear     int      `yaml:"maxYear"`
}

// DefaultPolicy returns the policy used when no policy file is given.
func DefaultPolicy() Policy {
	return Policy{
		RepairEncoding:  true,
		AddressCleanup:  true,
		MojibakeMarkers: []string{"Ã", "Â", "â€", "Å", "Ä"},
		MinYear:         1980,
		MaxYear:         2100,
	}
}

// LoadPolicy reads a YAML policy file. Keys missing from the file keep their
// default values.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()

	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, fmt.Errorf("parse policy %s: %w", path, err)
	}
	if policy.RecipientLimit < 0 {
		return Policy{}, fmt.Errorf("parse policy %s: recipientLimit must not be negative", path)
	}
	return policy, nil
}
