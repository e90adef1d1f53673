package acquire

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Policy tunes coverage behavior per region. Provider depth varies a lot
// by market, so operators lower the threshold where SignalHire is thin
// rather than hammering the API for coverage it cannot deliver.
type Policy struct {
	Defaults PolicyParams            `yaml:"defaults"`
	Regions  map[string]PolicyParams `yaml:"regions"`
}

// PolicyParams are the per-region tunables.
type PolicyParams struct {
	CoverageThreshold   float64 `yaml:"coverage_threshold"`
	OverfetchMultiplier int     `yaml:"overfetch_multiplier"`
}

// LoadPolicy reads an acquisition policy from a YAML file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "acquire: read policy %s", path)
	}

	var wrapper struct {
		Acquire Policy `yaml:"acquire"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "acquire: parse policy")
	}

	p := &wrapper.Acquire
	for key, params := range p.Regions {
		if params.CoverageThreshold == 0 {
			params.CoverageThreshold = p.Defaults.CoverageThreshold
		}
		if params.OverfetchMultiplier == 0 {
			params.OverfetchMultiplier = p.Defaults.OverfetchMultiplier
		}
		p.Regions[key] = params
	}
	return p, nil
}

// ForRegion returns the params for a region, falling back to defaults.
func (p *Policy) ForRegion(region string) PolicyParams {
	if params, ok := p.Regions[region]; ok {
		return params
	}
	return p.Defaults
}
