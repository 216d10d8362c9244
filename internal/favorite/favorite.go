// Package favorite orders bug lists so a user's favorites come first.
package favorite

import "github.com/joescharf/bugflow/internal/models"

// Set is a user's favorited bug IDs.
type Set map[string]struct{}

// NewSet builds a Set from IDs.
func NewSet(ids []string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is favorited.
func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// OrderForDisplay returns bugs with favorites first. Relative order within
// each group is kept. The input slice is not modified.
func OrderForDisplay(bugs []*models.Bug, favs Set) []*models.Bug {
	out := make([]*models.Bug, 0, len(bugs))
	for _, b := range bugs {
		if favs.Has(b.ID) {
			out = append(out, b)
		}
	}
	for _, b := range bugs {
		if !favs.Has(b.ID) {
			out = append(out, b)
		}
	}
	return out
}
