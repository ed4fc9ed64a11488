package parser

import (
	"sort"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// CandidateName returns the literal string a completion candidate would
// insert: the entry's value when it has one (a subcommand-style
// parameter's literal), otherwise its entry name (a command's name, or a
// PTYPE-bound parameter's own name).
func CandidateName(c Candidate) string {
	if c.Entry.Value != "" {
		return c.Entry.Value
	}
	return c.Entry.Name
}

// RankCandidates orders c by fuzzy-match score against prefix (§4.5
// expansion: "fuzzy.RankFindFold to order multiple prefix-valid candidates
// when more than one entry validates the same partial token"). Ties
// — including an empty prefix, where every candidate scores equally —
// are broken by original (declaration) order, since
// original_source resolves ties that way and sort.SliceStable preserves
// it.
func RankCandidates(prefix string, candidates []Candidate) []Candidate {
	if prefix == "" || len(candidates) <= 1 {
		return candidates
	}

	names := make([]string, len(candidates))
	byName := make(map[string][]int, len(candidates))
	for i, c := range candidates {
		name := CandidateName(c)
		names[i] = name
		byName[name] = append(byName[name], i)
	}

	ranks := fuzzy.RankFindFold(prefix, names)
	sort.SliceStable(ranks, func(i, j int) bool { return ranks[i].Distance < ranks[j].Distance })

	seen := make(map[int]bool, len(candidates))
	out := make([]Candidate, 0, len(candidates))
	for _, r := range ranks {
		idxs := byName[r.Target]
		for _, idx := range idxs {
			if !seen[idx] {
				seen[idx] = true
				out = append(out, candidates[idx])
				break
			}
		}
	}
	// Any candidate fuzzy ranking dropped (distance too large) still goes
	// out, in declaration order, rather than silently disappearing.
	for i, c := range candidates {
		if !seen[i] {
			out = append(out, c)
		}
	}
	return out
}
