// Package platform describes the feed layouts the engine knows how to drive.
package platform

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// Field extracts one raw field from an item node. An empty Attr reads the text.
type Field struct {
	Selector string
	Attr     string
}

// Profile captures the selectors and policies of a single platform layout.
type Profile struct {
	Name  string
	Hosts []string

	// ItemSelector matches content nodes, InterstitialSelector matches ads and
	// promos living in the same container.
	ItemSelector         string
	InterstitialSelector string
	ContainerSelector    string

	// IDAttr is read from the item node; otherwise IDSelector/IDSourceAttr locate
	// an element whose attribute is matched against IDPattern.
	IDAttr       string
	IDSelector   string
	IDSourceAttr string
	IDPattern    *regexp.Regexp

	GroupAttr     string
	GroupSelector string
	GroupPrefix   string

	Fields map[string]Field

	// ReorderSafe is false where moving nodes breaks the host's own layout.
	ReorderSafe bool
}

// MatchesHost reports whether rawURL belongs to the profile.
func (p Profile) MatchesHost(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range p.Hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// ExtractID applies IDPattern to raw, returning the first capture group.
func (p Profile) ExtractID(raw string) string {
	raw = strings.TrimSpace(raw)
	if p.IDPattern == nil || raw == "" {
		return raw
	}
	m := p.IDPattern.FindStringSubmatch(raw)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// NormalizeGroup trims a group label and applies the profile prefix.
func (p Profile) NormalizeGroup(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || p.GroupPrefix == "" || strings.HasPrefix(raw, p.GroupPrefix) {
		return raw
	}
	return p.GroupPrefix + raw
}

// Registry keeps a mapping from platform names to their profiles.
type Registry struct {
	profiles map[string]Profile
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{profiles: map[string]Profile{}}
}

// Register adds or replaces a profile.
func (r *Registry) Register(p Profile) {
	if r.profiles == nil {
		r.profiles = map[string]Profile{}
	}
	r.profiles[p.Name] = p
}

// Resolve returns a profile by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Profile, error) {
	if p, ok := r.profiles[name]; ok {
		return p, nil
	}
	return Profile{}, fmt.Errorf("platform %s is not registered", name)
}

// Match finds the profile whose hosts cover rawURL.
func (r *Registry) Match(rawURL string) (Profile, error) {
	for _, name := range r.Names() {
		if p := r.profiles[name]; p.MatchesHost(rawURL) {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("no platform profile for %s", rawURL)
}

// Names lists registered platforms in a stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
