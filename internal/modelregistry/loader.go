package modelregistry

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/hivetechs/consensus/internal/consensustypes"
)

// seedFile is the on-disk shape of the model/profile catalog, loaded the
// same way internal/config/config.go loads features.yaml: viper +
// mapstructure tags, no hand-rolled parsing.
type seedFile struct {
	Models   []consensustypes.ModelMetadata   `mapstructure:"models"`
	Profiles []profileSeed                    `mapstructure:"profiles"`
}

// profileSeed mirrors ConsensusProfile but with a map keyed by stage name
// instead of consensustypes.Stage's array index, since YAML authors write
// stage names, not array positions.
type profileSeed struct {
	Name    string                                  `mapstructure:"name"`
	Entries map[string]consensustypes.ProfileEntry `mapstructure:"entries"`
}

// LoadSeedFile reads a model/profile catalog YAML file and returns a
// populated Registry. Path resolution mirrors config.Load's CONFIG_PATH
// convention: callers pass the resolved path directly.
func LoadSeedFile(path string) (*Registry, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read model seed file %s: %w", path, err)
	}

	var seed seedFile
	if err := v.Unmarshal(&seed); err != nil {
		return nil, fmt.Errorf("unmarshal model seed file: %w", err)
	}

	reg := New()
	reg.Seed(seed.Models)

	for _, ps := range seed.Profiles {
		profile := consensustypes.ConsensusProfile{Name: ps.Name}
		for stageName, entry := range ps.Entries {
			stage, ok := stageFromName(stageName)
			if !ok {
				return nil, fmt.Errorf("profile %q: unknown stage %q", ps.Name, stageName)
			}
			profile.Entries[stage] = entry
		}
		reg.RegisterProfile(profile)
	}

	return reg, nil
}

func stageFromName(name string) (consensustypes.Stage, bool) {
	for _, s := range consensustypes.Stages {
		if s.String() == name {
			return s, true
		}
	}
	return 0, false
}
