package handlers

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"periscope/internal/core"
)

// userFile mirrors core.DigestUserConfig so omitted fields get defaults.
type userFile struct {
	UserID       string `yaml:"user_id"`
	Email        string `yaml:"email"`
	Timezone     string `yaml:"timezone"`
	DeliveryTime string `yaml:"delivery_time"`
	SummaryStyle string `yaml:"summary_style"`
	CustomPrompt string `yaml:"custom_prompt"`
	Sources      []struct {
		URL    string `yaml:"url"`
		Name   string `yaml:"name"`
		Type   string `yaml:"type"`
		Active *bool  `yaml:"active"`
	} `yaml:"sources"`
	InterestProfile struct {
		Keywords           []string `yaml:"keywords"`
		RelevanceThreshold *int     `yaml:"relevance_threshold"`
		BoostFactor        float64  `yaml:"boost_factor"`
	} `yaml:"interest_profile"`
}

// DefaultRelevanceThreshold applies when a profile sets none.
const DefaultRelevanceThreshold = 40

// LoadUserConfig reads and validates a user definition from a YAML file.
func LoadUserConfig(path string) (core.DigestUserConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return core.DigestUserConfig{}, fmt.Errorf("failed to read user config %s: %w", path, err)
	}
	return ParseUserConfig(data)
}

// ParseUserConfig decodes a YAML user definition, filling defaults:
// sources are active unless disabled, the style is brief, the boost
// factor is 1.0.
func ParseUserConfig(data []byte) (core.DigestUserConfig, error) {
	var f userFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return core.DigestUserConfig{}, fmt.Errorf("failed to parse user config: %w", err)
	}

	u := core.DigestUserConfig{
		UserID:       strings.TrimSpace(f.UserID),
		Email:        strings.TrimSpace(f.Email),
		Timezone:     f.Timezone,
		DeliveryTime: f.DeliveryTime,
		SummaryStyle: core.SummaryStyle(f.SummaryStyle),
		CustomPrompt: f.CustomPrompt,
		InterestProfile: core.InterestProfile{
			Keywords:           f.InterestProfile.Keywords,
			RelevanceThreshold: DefaultRelevanceThreshold,
			BoostFactor:        f.InterestProfile.BoostFactor,
		},
	}
	if u.SummaryStyle == "" {
		u.SummaryStyle = core.SummaryStyleBrief
	}
	if f.InterestProfile.RelevanceThreshold != nil {
		u.InterestProfile.RelevanceThreshold = *f.InterestProfile.RelevanceThreshold
	}
	if u.InterestProfile.BoostFactor == 0 {
		u.InterestProfile.BoostFactor = 1.0
	}

	for _, s := range f.Sources {
		src := core.ContentSourceConfig{
			URL:    strings.TrimSpace(s.URL),
			Name:   s.Name,
			Type:   core.SourceType(s.Type),
			Active: s.Active == nil || *s.Active,
		}
		if src.Type == "" {
			src.Type = core.SourceTypeRSS
		}
		if src.Name == "" {
			src.Name = src.URL
		}
		u.Sources = append(u.Sources, src)
	}

	if err := u.Validate(); err != nil {
		return core.DigestUserConfig{}, err
	}
	return u, nil
}
