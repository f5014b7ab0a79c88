package voice

import (
	"slices"
	"strings"

	"github.com/antzucaro/matchr"
)

// suggestThreshold is the minimum Jaro-Winkler score for a profile name to be
// suggested.
const suggestThreshold = 0.75

// Suggest returns up to n existing profile names that look like name, best
// match first. Names that sound alike (shared Double Metaphone code) are
// always included.
func (s *Store) Suggest(name string, n int) []string {
	profiles, err := s.List()
	if err != nil || n <= 0 {
		return nil
	}
	query := strings.ToLower(strings.TrimSpace(name))
	if query == "" {
		return nil
	}
	qp, qs := matchr.DoubleMetaphone(query)

	type scored struct {
		name  string
		score float64
	}
	var hits []scored
	for _, p := range profiles {
		candidate := strings.ToLower(p.Name)
		score := matchr.JaroWinkler(query, candidate, false)
		cp, cs := matchr.DoubleMetaphone(candidate)
		sounds := qp != "" && (qp == cp || (qs != "" && qs == cs))
		if score >= suggestThreshold || sounds {
			hits = append(hits, scored{name: p.Name, score: score})
		}
	}
	slices.SortStableFunc(hits, func(a, b scored) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return strings.Compare(a.name, b.name)
	})

	out := make([]string, 0, min(n, len(hits)))
	for _, h := range hits[:min(n, len(hits))] {
		out = append(out, h.name)
	}
	return out
}
