package location

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Campaign is the on-disk campaign description: the active phase and its overrides.
type Campaign struct {
	Phase     string     `yaml:"phase"`
	Overrides []Override `yaml:"overrides"`
}

// LoadCampaign reads a YAML campaign file. A missing path yields the group stage.
func LoadCampaign(path string) (Campaign, error) {
	if path == "" {
		return Campaign{Phase: PhaseGroupStage}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Campaign{Phase: PhaseGroupStage}, nil
		}
		return Campaign{}, fmt.Errorf("read campaign file: %w", err)
	}

	var c Campaign
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Campaign{}, fmt.Errorf("parse campaign file: %w", err)
	}
	if c.Phase == "" {
		c.Phase = PhaseGroupStage
	}
	return c, nil
}

// Catalog builds the catalog for c, letting phaseOverride win over the file when set.
func (c Campaign) Catalog(phaseOverride string) (*Catalog, error) {
	phase := c.Phase
	if phaseOverride != "" {
		phase = phaseOverride
	}
	return NewCatalog(phase, c.Overrides)
}
