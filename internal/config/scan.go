package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// VoiceProfile describes one synthesis voice available to devices.
type VoiceProfile struct {
	Filename    string  `json:"filename" yaml:"-"`
	Name        string  `json:"name" yaml:"name"`
	Voice       string  `json:"voice" yaml:"voice"`
	Language    string  `json:"language,omitempty" yaml:"language"`
	Emotion     string  `json:"emotion,omitempty" yaml:"emotion"`
	SpeedRatio  float64 `json:"speed_ratio,omitempty" yaml:"speed_ratio"`
	Description string  `json:"description,omitempty" yaml:"description"`
}

// ScanVoiceProfiles walks the voice profile directory and returns every
// parseable yaml profile. A missing directory yields an empty list.
func ScanVoiceProfiles(dir string) []VoiceProfile {
	profiles := []VoiceProfile{}
	if dir == "" {
		return profiles
	}
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil || d == nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		profile, err := readVoiceProfile(path)
		if err != nil {
			return nil
		}
		profile.Filename = d.Name()
		if profile.Name == "" {
			profile.Name = strings.TrimSuffix(d.Name(), ext)
		}
		profiles = append(profiles, profile)
		return nil
	})
	return profiles
}

func readVoiceProfile(path string) (VoiceProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return VoiceProfile{}, err
	}
	var profile VoiceProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return VoiceProfile{}, err
	}
	return profile, nil
}
