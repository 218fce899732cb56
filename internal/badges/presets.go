package badges

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PresetFile is the on-disk layout of the presets file:
//
//	presets:
//	  full: [audio_codec, resolution, review, awards]
//	  tech: [audio_codec, resolution]
type PresetFile struct {
	Presets map[string][]string `yaml:"presets"`
}

// DefaultPresets are used when no presets file is configured
func DefaultPresets() map[string][]string {
	return map[string][]string{
		"full":    {AudioCodec, Resolution, Review, Awards},
		"tech":    {AudioCodec, Resolution},
		"acclaim": {Review, Awards},
	}
}

// ParsePresets decodes presets from YAML content
func ParsePresets(data []byte) (map[string][]string, error) {
	var pf PresetFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}
	if pf.Presets == nil {
		pf.Presets = make(map[string][]string)
	}
	return pf.Presets, nil
}

// LoadPresets reads presets from a YAML file. A missing file yields the defaults.
func LoadPresets(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultPresets(), nil
	}
	if err != nil {
		return nil, err
	}
	return ParsePresets(data)
}
