package notify

import (
	"fmt"
	"strings"

	"maison/api/models"

	"github.com/BurntSushi/toml"
)

// VIPMatcher classifies visitors from two identifier lists. Exclusions are
// checked first and win: an identifier is excluded when it equals an
// exclude entry or ends with one (so "@maison.example" excludes staff
// addresses). VIP entries only match on equality. Comparison is exact and
// case-sensitive.
type VIPMatcher struct {
	VIP     []string `toml:"vip"`
	Exclude []string `toml:"exclude"`
}

// LoadVIPMatcher reads a TOML file of the form:
//
//	vip = ["v-8f2k1", "layla@example.com"]
//	exclude = ["@maison.example", "test-visitor"]
func LoadVIPMatcher(path string) (*VIPMatcher, error) {
	var m VIPMatcher
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, fmt.Errorf("load vip config %s: %w", path, err)
	}
	m.VIP = trimEntries(m.VIP)
	m.Exclude = trimEntries(m.Exclude)
	return &m, nil
}

// trimEntries strips whitespace left in the config file and drops blanks.
func trimEntries(entries []string) []string {
	out := entries[:0]
	for _, e := range entries {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}

// IsVIP reports whether any of ids is a VIP and none is excluded.
func (m *VIPMatcher) IsVIP(ids ...string) bool {
	if m == nil || len(m.VIP) == 0 {
		return false
	}

	var candidates []string
	for _, id := range ids {
		if id != "" {
			candidates = append(candidates, id)
		}
	}

	for _, id := range candidates {
		for _, ex := range m.Exclude {
			if ex != "" && (id == ex || strings.HasSuffix(id, ex)) {
				return false
			}
		}
	}

	for _, id := range candidates {
		for _, vip := range m.VIP {
			if id == vip {
				return true
			}
		}
	}
	return false
}

// Classify checks every identifier the event carries.
func (m *VIPMatcher) Classify(evt models.VisitorEvent) bool {
	return m.IsVIP(Identifiers(evt)...)
}

// Identifiers returns the values of evt that can name a visitor.
func Identifiers(evt models.VisitorEvent) []string {
	ids := []string{evt.VisitorID}
	for _, path := range []string{"email", "phone", "name", "customer.email", "customer.phone", "customer.name"} {
		if v := evt.Text(path); v != "" {
			ids = append(ids, v)
		}
	}
	return ids
}
