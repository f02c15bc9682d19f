// Package policy holds the per-host match criteria used to decide whether a
// rendered page carries the configured content marker.
//
// A Set is built once from raw configuration records and is read-only
// afterwards. Lookups are keyed by URL host, compared case-insensitively.
package policy

import (
	"net/url"
	"regexp"
	"strings"
)

// Policy describes how to search one host's pages.
type Policy struct {
	Host  string
	Class string         // CSS class narrowing the search scope
	ID    string         // element id narrowing the search scope, ignored when Class is set
	Value *regexp.Regexp // "contains" pattern matched against text nodes

	rawValue string
}

// Valid reports whether at least one criterion is configured.
func (p Policy) Valid() bool {
	return p.Class != "" || p.ID != "" || p.Value != nil
}

// RawValue returns the configured value string before it was wrapped.
func (p Policy) RawValue() string { return p.rawValue }

// Set maps hosts to policies.
type Set struct {
	byHost map[string]Policy
}

// NewSet builds a Set from already constructed policies. Later entries for
// the same host replace earlier ones.
func NewSet(policies ...Policy) Set {
	s := Set{byHost: make(map[string]Policy, len(policies))}
	for _, p := range policies {
		p.Host = normalizeHost(p.Host)
		s.byHost[p.Host] = p
	}
	return s
}

// Lookup returns the policy registered for host.
func (s Set) Lookup(host string) (Policy, bool) {
	p, ok := s.byHost[normalizeHost(host)]
	return p, ok
}

// LookupURL resolves the host component of rawURL and returns its policy
// together with the resolved host. Path, query and scheme play no part.
func (s Set) LookupURL(rawURL string) (Policy, string, bool) {
	host := HostOf(rawURL)
	p, ok := s.Lookup(host)
	return p, host, ok
}

// Len returns the number of policies.
func (s Set) Len() int { return len(s.byHost) }

// Hosts returns the registered hosts in no particular order.
func (s Set) Hosts() []string {
	hosts := make([]string, 0, len(s.byHost))
	for h := range s.byHost {
		hosts = append(hosts, h)
	}
	return hosts
}

// HostOf returns the lowercased host (with port, if any) of rawURL, or ""
// when it cannot be parsed.
func HostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return normalizeHost(u.Host)
}

func normalizeHost(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

// containsPattern wraps raw so it matches anywhere in a text node.
func containsPattern(raw string) (*regexp.Regexp, error) {
	return regexp.Compile(".*" + raw + ".*")
}
