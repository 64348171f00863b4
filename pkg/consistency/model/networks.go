package model

import (
	"maps"
	"slices"
	"strings"
)

// NetworkSet is a set of network codes, used for the exclusion filter that is
// applied identically to the archive, the metadata and the catalog.
type NetworkSet map[string]struct{}

// NewNetworkSet builds a set from network codes. Blank codes are ignored and
// codes are trimmed.
func NewNetworkSet(networks ...string) NetworkSet {
	set := make(NetworkSet, len(networks))
	for _, n := range networks {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		set[n] = struct{}{}
	}
	return set
}

// Contains is safe to call on a nil set.
func (s NetworkSet) Contains(network string) bool {
	_, ok := s[network]
	return ok
}

// Sorted returns the codes in lexical order.
func (s NetworkSet) Sorted() []string {
	return slices.Sorted(maps.Keys(s))
}
