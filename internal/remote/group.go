package remote

import (
	"sort"
	"strconv"

	"toolvm/internal/config"
	"toolvm/internal/version"
)

// GroupedVersion is one remote version annotated for presentation.
type GroupedVersion struct {
	Version   string `json:"version"`
	IsLTS     bool   `json:"isLts"`
	Installed bool   `json:"isInstalled"`
}

// Group is a major-version bucket of remote versions.
type Group struct {
	Major    string           `json:"majorVersion"`
	HasLTS   bool             `json:"hasLts"`
	Versions []GroupedVersion `json:"versions"`
}

// GroupVersions buckets remote versions by leading numeric component.
// Groups are ordered by major descending, members by full version
// descending; Installed is membership in installed.
func GroupVersions(versions []config.RemoteVersion, installed []string) []Group {
	installedSet := make(map[string]bool, len(installed))
	for _, v := range installed {
		installedSet[v] = true
	}

	byMajor := map[string]*Group{}
	var order []string
	for _, rv := range versions {
		major := version.Major(rv.Version)
		g, ok := byMajor[major]
		if !ok {
			g = &Group{Major: major}
			byMajor[major] = g
			order = append(order, major)
		}
		if rv.IsLTS {
			g.HasLTS = true
		}
		g.Versions = append(g.Versions, GroupedVersion{
			Version:   rv.Version,
			IsLTS:     rv.IsLTS,
			Installed: installedSet[rv.Version],
		})
	}

	sort.Slice(order, func(i, j int) bool {
		a, _ := strconv.Atoi(order[i])
		b, _ := strconv.Atoi(order[j])
		return a > b
	})
	out := make([]Group, 0, len(order))
	for _, major := range order {
		g := byMajor[major]
		sort.SliceStable(g.Versions, func(i, j int) bool {
			return version.Compare(g.Versions[i].Version, g.Versions[j].Version) > 0
		})
		out = append(out, *g)
	}
	return out
}
