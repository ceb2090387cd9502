package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TabEntry describes a tab to open at startup.
type TabEntry struct {
	URL    string `yaml:"url"`
	Active bool   `yaml:"active"`
}

// StartupTabs is the top-level YAML document listing startup tabs.
type StartupTabs struct {
	Tabs []TabEntry `yaml:"tabs"`
}

// LoadStartupTabs reads and validates a startup tabs file. A missing file
// yields an os.ErrNotExist-wrapped error; callers skip silently in that case.
func LoadStartupTabs(path string) (*StartupTabs, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("startup tabs: %w", err)
	}
	var cfg StartupTabs
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("startup tabs: %w", err)
	}
	active := 0
	for i, t := range cfg.Tabs {
		if t.URL == "" {
			return nil, fmt.Errorf("startup tabs: tabs[%d] missing url", i)
		}
		if t.Active {
			active++
		}
	}
	if active > 1 {
		return nil, fmt.Errorf("startup tabs: %d tabs marked active, at most one allowed", active)
	}
	return &cfg, nil
}

// ActiveIndex returns the index of the tab to focus: the one marked active,
// else the last one. It returns -1 for an empty list.
func (s *StartupTabs) ActiveIndex() int {
	for i, t := range s.Tabs {
		if t.Active {
			return i
		}
	}
	return len(s.Tabs) - 1
}
