package config

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// DefaultTemplates returns the bundled template catalog.
func DefaultTemplates() map[string]*ToolTemplate {
	templates := map[string]*ToolTemplate{}
	if err := yaml.Unmarshal(defaultsYAML, &templates); err != nil {
		// The catalog is embedded; a parse failure is a build defect.
		panic(fmt.Sprintf("bundled defaults.yaml: %v", err))
	}
	return templates
}

// defaultConfig builds a complete default Config: the bundled
// templates, default settings, and an empty state per tool.
func defaultConfig() *Config {
	cfg := &Config{
		Settings: Settings{
			ToolTemplates:      DefaultTemplates(),
			CacheExpireTime:    DefaultCacheExpireTime,
			RequestRateLimit:   DefaultRequestRateLimit,
			DownloadRetryCount: DefaultDownloadRetryCount,
		},
		Tools: map[string]*ToolState{},
	}
	for name := range cfg.Settings.ToolTemplates {
		cfg.Tools[name] = newToolState()
	}
	return cfg
}

func newToolState() *ToolState {
	return &ToolState{InstalledVersions: []string{}, LockedVersions: []string{}}
}

// blankTemplate builds a skeleton template for a tool without a
// bundled default.
func blankTemplate(name string) *ToolTemplate {
	return &ToolTemplate{
		MirrorList:     []string{},
		VersionCommand: name + " --version",
		EnvRule: EnvRule{
			HomeVar:     strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name)) + "_HOME",
			PathEntries: []string{""},
			Scope:       ScopeUser,
		},
		FetchRule: &FetchRule{
			VersionPattern:      `href="(\d+\.\d+\.\d+)/"`,
			DownloadURLTemplate: "{mirror}{version}/" + name + "-{version}.tar.gz",
		},
	}
}
