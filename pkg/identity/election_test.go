package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radicle-collab/heartwood/pkg/radcrypto"
)

// fakeGraph is a tiny linear commit history: each commit's ancestors are
// exactly the prior entries of chain.
type fakeGraph struct {
	chain []string // oldest first
}

func (g fakeGraph) indexOf(c string) int {
	for i, x := range g.chain {
		if x == c {
			return i
		}
	}
	return -1
}

func (g fakeGraph) IsAncestor(ancestor, descendant string) (bool, error) {
	ai, di := g.indexOf(ancestor), g.indexOf(descendant)
	if ai == -1 || di == -1 {
		return false, nil
	}
	return ai <= di, nil
}

func (g fakeGraph) Depth(commit string) (int, error) {
	return g.indexOf(commit), nil
}

func TestElectCanonicalHeadFastForward(t *testing.T) {
	a, b, c := mustKeypair(t), mustKeypair(t), mustKeypair(t)
	doc := genesisDoc(t, []radcrypto.NID{a.NID, b.NID, c.NID}, 2)
	graph := fakeGraph{chain: []string{"c1", "c2", "c3"}}

	head, err := ElectCanonicalHead(doc, map[string]string{
		a.NID.String(): "c3",
		b.NID.String(): "c2",
		c.NID.String(): "c3",
	}, graph)
	require.NoError(t, err)
	assert.Equal(t, "c3", head)
}

func TestElectCanonicalHeadQuorumNotMet(t *testing.T) {
	a, b, c := mustKeypair(t), mustKeypair(t), mustKeypair(t)
	doc := genesisDoc(t, []radcrypto.NID{a.NID, b.NID, c.NID}, 2)
	graph := fakeGraph{chain: []string{"c1"}}

	_, err := ElectCanonicalHead(doc, map[string]string{
		a.NID.String(): "c1",
	}, graph)
	assert.Error(t, err)
}

// TestElectCanonicalHeadCountsDescendants covers spec §4.1's literal
// counting rule: a candidate commit's support includes every delegate
// whose tip is a descendant of it, not just delegates sitting at that
// exact commit. Three delegates strung along one chain (A@c1, B@c2,
// C@c3) all back c1, but the deepest commit that still clears
// threshold 2 is c2 (B and C).
func TestElectCanonicalHeadCountsDescendants(t *testing.T) {
	a, b, c := mustKeypair(t), mustKeypair(t), mustKeypair(t)
	doc := genesisDoc(t, []radcrypto.NID{a.NID, b.NID, c.NID}, 2)
	graph := fakeGraph{chain: []string{"c1", "c2", "c3"}}

	head, err := ElectCanonicalHead(doc, map[string]string{
		a.NID.String(): "c1",
		b.NID.String(): "c2",
		c.NID.String(): "c3",
	}, graph)
	require.NoError(t, err)
	assert.Equal(t, "c2", head)
}
