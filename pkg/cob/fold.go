package cob

import "sort"

// topoSort orders a DAG's entries deterministically per spec §4.2:
// topological order; ties broken by (timestamp ascending, entry-hash
// ascending). Every observer folding the same DAG produces the same
// order, which is what makes the fold pure (spec invariant 5).
func topoSort(entries map[EntryID]*Entry) []*Entry {
	indegree := make(map[EntryID]int, len(entries))
	children := make(map[EntryID][]EntryID, len(entries))

	for id, e := range entries {
		if _, ok := indegree[id]; !ok {
			indegree[id] = 0
		}
		for _, p := range e.Parents {
			if _, ok := entries[p]; !ok {
				continue // parent not locally known yet; ignore dangling edge
			}
			indegree[id]++
			children[p] = append(children[p], id)
		}
	}

	ready := make([]*Entry, 0, len(entries))
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, entries[id])
		}
	}

	less := func(a, b *Entry) bool {
		if a.TimestampMilli != b.TimestampMilli {
			return a.TimestampMilli < b.TimestampMilli
		}
		return a.ID < b.ID
	}

	ordered := make([]*Entry, 0, len(entries))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })
		next := ready[0]
		ready = ready[1:]
		ordered = append(ordered, next)

		for _, childID := range children[next.ID] {
			indegree[childID]--
			if indegree[childID] == 0 {
				ready = append(ready, entries[childID])
			}
		}
	}
	return ordered
}

// fold walks entries in deterministic order, applying every action of
// every entry (in array order) through spec's reducer, building the
// materialized state.
func fold(spec TypeSpec, ctx FoldContext, entries map[EntryID]*Entry) (interface{}, error) {
	acc := spec.NewAccumulator()
	for _, entry := range topoSort(entries) {
		for _, action := range entry.Actions {
			if _, err := spec.Reduce(ctx, acc, entry, action); err != nil {
				return nil, err
			}
		}
	}
	return acc, nil
}
