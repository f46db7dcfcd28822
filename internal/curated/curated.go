// Package curated loads hand-maintained person profiles and their network
// bindings from YAML. Profiles drive the person-drilldown API and the
// curated seeding job.
package curated

import (
	_ "embed"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/bstandal/NorConnect/internal/resolve"
)

//go:embed default_network.yaml
var defaultNetworkYAML []byte

// SourceRef is a provenance reference on a curated binding or link.
type SourceRef struct {
	SourceName   string `yaml:"source_name"`
	URL          string `yaml:"url"`
	DocType      string `yaml:"doc_type"`
	RelationType string `yaml:"relation_type"`
}

// Binding ties a profile's person to an institution with a role.
type Binding struct {
	InstitutionName string      `yaml:"institution_name"`
	InstitutionType string      `yaml:"institution_type"`
	RoleTitle       string      `yaml:"role_title"`
	RelationType    string      `yaml:"relation_type"`
	StartYear       *int        `yaml:"start_year"`
	EndYear         *int        `yaml:"end_year"`
	OutsideDataset  *bool       `yaml:"outside_dataset"`
	Notes           string      `yaml:"notes"`
	Sources         []SourceRef `yaml:"sources"`
}

// Outside reports whether the binding points outside the harvested
// dataset. Unset defaults to true: curated bindings usually do.
func (b Binding) Outside() bool {
	return b.OutsideDataset == nil || *b.OutsideDataset
}

// Link is a curated person-to-person relation.
type Link struct {
	TargetKey    string      `yaml:"target_key"`
	RelationType string      `yaml:"relation_type"`
	Label        string      `yaml:"label"`
	StartYear    *int        `yaml:"start_year"`
	EndYear      *int        `yaml:"end_year"`
	Notes        string      `yaml:"notes"`
	Sources      []SourceRef `yaml:"sources"`
}

// Profile is one curated person with aliases, institution bindings, and
// person links.
type Profile struct {
	DisplayName string    `yaml:"display_name"`
	Aliases     []string  `yaml:"aliases"`
	Group       string    `yaml:"group"`
	Bindings    []Binding `yaml:"bindings"`
	Links       []Link    `yaml:"links"`
}

// Set is a loaded curated network: profiles keyed by slug, named groups,
// the drilldown default, and the keys the seeding job writes when none are
// selected.
type Set struct {
	DefaultKey   string              `yaml:"default_key"`
	SeedDefaults []string            `yaml:"seed_defaults"`
	Groups       map[string][]string `yaml:"groups"`
	Profiles     map[string]Profile  `yaml:"profiles"`
}

// DefaultSet returns the curated network embedded in the binary.
func DefaultSet() (*Set, error) {
	return parse(defaultNetworkYAML)
}

// Load reads a curated network file. An empty path falls back to the
// embedded default.
func Load(path string) (*Set, error) {
	if path == "" {
		return DefaultSet()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "curated: read network file")
	}
	return parse(raw)
}

func parse(raw []byte) (*Set, error) {
	var s Set
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, eris.Wrap(err, "curated: parse network file")
	}
	if len(s.Profiles) == 0 {
		return nil, eris.New("curated: network file has no profiles")
	}
	if s.DefaultKey == "" {
		s.DefaultKey = s.Keys()[0]
	}
	return &s, nil
}

// Keys lists profile keys in sorted order.
func (s *Set) Keys() []string {
	keys := make([]string, 0, len(s.Profiles))
	for k := range s.Profiles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Find resolves a raw person key, display name, or alias to a profile. The
// input is slugged first, so "Børge Brende" and "borge-brende" both hit.
func (s *Set) Find(raw string) (string, Profile, bool) {
	candidate := resolve.SlugKey(raw)
	if candidate == "" {
		candidate = s.DefaultKey
	}
	if p, ok := s.Profiles[candidate]; ok {
		return candidate, p, true
	}
	for _, key := range s.Keys() {
		p := s.Profiles[key]
		if resolve.SlugKey(p.DisplayName) == candidate {
			return key, p, true
		}
		for _, alias := range p.Aliases {
			if resolve.SlugKey(alias) == candidate {
				return key, p, true
			}
		}
	}
	return "", Profile{}, false
}

// Default returns the drilldown default profile.
func (s *Set) Default() (string, Profile) {
	return s.DefaultKey, s.Profiles[s.DefaultKey]
}

// Select expands explicit keys and group names into an ordered,
// deduplicated key list. With no selectors it falls back to the seed
// defaults, or every profile when none are configured.
func (s *Set) Select(keys, groups []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	add := func(key string) {
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}

	for _, raw := range keys {
		key, _, ok := s.Find(raw)
		if !ok {
			return nil, eris.Errorf("curated: unknown person key %q", raw)
		}
		add(key)
	}
	for _, group := range groups {
		members, ok := s.Groups[strings.TrimSpace(group)]
		if !ok {
			return nil, eris.Errorf("curated: unknown group %q", group)
		}
		for _, key := range members {
			if _, ok := s.Profiles[key]; ok {
				add(key)
			}
		}
	}

	if len(out) == 0 {
		for _, key := range s.SeedDefaults {
			if _, ok := s.Profiles[key]; ok {
				add(key)
			}
		}
	}
	if len(out) == 0 {
		out = s.Keys()
	}
	return out, nil
}
