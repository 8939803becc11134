package identity

import (
	"sort"

	"github.com/radicle-collab/heartwood/pkg/raderr"
)

// CommitGraph is the narrow view canonical head election needs of the
// underlying git commit graph, which this spec treats as an opaque,
// out-of-scope storage concern (spec "Out of scope"). Callers inject a
// real git-backed implementation; tests inject a fake in-memory one.
type CommitGraph interface {
	// IsAncestor reports whether ancestor is a (possibly indirect, possibly
	// equal) ancestor of descendant.
	IsAncestor(ancestor, descendant string) (bool, error)
	// Depth reports a commit's distance from its root, used only to break
	// ties between mutually non-ancestral candidate heads.
	Depth(commit string) (int, error)
}

// ElectCanonicalHead runs spec §4.1's canonical head election: for each
// candidate commit c (the distinct set of delegate branch tips), the
// count of delegates whose tip is c or a descendant of c is tallied;
// the commit with support from at least doc.Threshold distinct
// delegates becomes canonical. When several commits independently
// clear threshold, the descendant of every other qualifying commit
// wins (a strict superset of support implies a fast-forward); if no
// such commit exists the election is genuinely ambiguous and the
// deepest commit wins, with a lexicographic tie-break on the commit
// hash to keep election deterministic across replicas.
func ElectCanonicalHead(doc Document, branchTips map[string]string, graph CommitGraph) (string, error) {
	tips := make([]string, 0, len(doc.Delegates))
	seen := make(map[string]bool, len(doc.Delegates))
	for _, delegate := range doc.Delegates {
		commit, ok := branchTips[delegate.String()]
		if !ok || commit == "" || seen[commit] {
			continue
		}
		seen[commit] = true
		tips = append(tips, commit)
	}

	tally := make(map[string]int, len(tips))
	for _, candidate := range tips {
		count := 0
		for _, delegate := range doc.Delegates {
			tip, ok := branchTips[delegate.String()]
			if !ok || tip == "" {
				continue
			}
			if tip == candidate {
				count++
				continue
			}
			isDescendant, err := graph.IsAncestor(candidate, tip)
			if err != nil {
				return "", raderr.Wrap(raderr.KindStorageTransient, "ancestry check for election tally", err)
			}
			if isDescendant {
				count++
			}
		}
		tally[candidate] = count
	}

	candidates := make([]string, 0, len(tips))
	for _, commit := range tips {
		if tally[commit] >= doc.Threshold {
			candidates = append(candidates, commit)
		}
	}
	if len(candidates) == 0 {
		return "", raderr.New(raderr.KindQuorumNotMet, "no branch tip reached delegate threshold")
	}
	sort.Strings(candidates)
	if len(candidates) == 1 {
		return candidates[0], nil
	}

	for _, c := range candidates {
		if isDescendantOfAll(c, candidates, graph) {
			return c, nil
		}
	}
	return deepest(candidates, graph)
}

func isDescendantOfAll(candidate string, all []string, graph CommitGraph) bool {
	for _, other := range all {
		if other == candidate {
			continue
		}
		ok, err := graph.IsAncestor(other, candidate)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

func deepest(candidates []string, graph CommitGraph) (string, error) {
	best := candidates[0]
	bestDepth := -1
	for _, c := range candidates {
		d, err := graph.Depth(c)
		if err != nil {
			return "", raderr.Wrap(raderr.KindStorageTransient, "depth lookup for election tie-break", err)
		}
		if d > bestDepth || (d == bestDepth && c < best) {
			best = c
			bestDepth = d
		}
	}
	return best, nil
}
