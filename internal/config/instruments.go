package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Krishnaraj-Irkal/flowsense/internal/domain"
)

// InstrumentSeedFile is the shape accepted by the seed-instruments CLI
// subcommand (spec.md §6).
type InstrumentSeedFile struct {
	Instruments []domain.Instrument `yaml:"instruments"`
}

// LoadInstrumentSeedFile parses a YAML file listing instruments to insert.
func LoadInstrumentSeedFile(path string) ([]domain.Instrument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var seed InstrumentSeedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if len(seed.Instruments) == 0 {
		return nil, fmt.Errorf("seed file %s declares no instruments", path)
	}
	for i, inst := range seed.Instruments {
		if inst.SecurityID == "" {
			return nil, fmt.Errorf("seed entry %d missing securityId", i)
		}
		if inst.LotSize <= 0 {
			return nil, fmt.Errorf("seed entry %d (%s) has non-positive lotSize", i, inst.SecurityID)
		}
	}
	return seed.Instruments, nil
}
