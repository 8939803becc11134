package cob

import "encoding/json"

// PatchType is the COB type name for patches (spec §3/§6).
const PatchType = "xyz.radicle.patch"

const (
	PatchDraft    = "draft"
	PatchOpen     = "open"
	PatchMerged   = "merged"
	PatchArchived = "archived"
)

// Review is a single review of a patch revision.
type Review struct {
	By       string `json:"by"`
	Verdict  string `json:"verdict,omitempty"` // "accept" | "reject" | "" (null)
	Summary  string `json:"summary,omitempty"`
	Delegate bool   `json:"delegate"` // counts toward merge quorum
}

// Revision is one (base, head, description) tuple a patch carries.
type Revision struct {
	ID          string   `json:"id"`
	Base        string   `json:"base"`
	Head        string   `json:"oid"`
	Description string   `json:"description"`
	Reviews     []Review `json:"reviews,omitempty"`
}

// PatchState is the materialized accumulator for a patch COB.
type PatchState struct {
	Title       string     `json:"title"`
	Status      string     `json:"status"`
	Revisions   []Revision `json:"revisions"`
	MergeCommit string     `json:"mergeCommit,omitempty"`
}

func newPatchState() interface{} {
	return &PatchState{Status: PatchDraft, Revisions: []Revision{}}
}

type patchRevisionAction struct {
	Type        string `json:"type"`
	Base        string `json:"base"`
	OID         string `json:"oid"`
	Description string `json:"description"`
}

type patchRevisionEditAction struct {
	Type        string `json:"type"`
	Revision    string `json:"revision"`
	Description string `json:"description"`
}

type patchEditAction struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Target string `json:"target"`
}

type patchReviewAction struct {
	Type     string  `json:"type"`
	Revision string  `json:"revision"`
	Verdict  *string `json:"verdict"`
	Summary  string  `json:"summary"`
}

type patchMergeAction struct {
	Type     string `json:"type"`
	Revision string `json:"revision"`
	Commit   string `json:"commit"`
}

type patchLifecycleAction struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

func findRevision(acc *PatchState, id string) *Revision {
	for i := range acc.Revisions {
		if acc.Revisions[i].ID == id {
			return &acc.Revisions[i]
		}
	}
	return nil
}

func reducePatch(ctx FoldContext, accRaw interface{}, entry *Entry, raw json.RawMessage) (bool, error) {
	acc := accRaw.(*PatchState)

	var disc struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &disc); err != nil {
		return false, nil //nolint:nilerr
	}

	authorOrDelegate := func() bool {
		return ctx.isObjectAuthor(entry.Author) || ctx.isDelegate(entry.Author)
	}

	switch disc.Type {
	case "revision":
		var a patchRevisionAction
		if err := json.Unmarshal(raw, &a); err != nil || !authorOrDelegate() {
			return false, nil
		}
		acc.Revisions = append(acc.Revisions, Revision{
			ID: string(entry.ID), Base: a.Base, Head: a.OID, Description: a.Description,
		})
		return true, nil

	case "revision.edit":
		var a patchRevisionEditAction
		if err := json.Unmarshal(raw, &a); err != nil || !authorOrDelegate() {
			return false, nil
		}
		if rev := findRevision(acc, a.Revision); rev != nil {
			rev.Description = a.Description
		}
		return true, nil

	case "edit":
		var a patchEditAction
		if err := json.Unmarshal(raw, &a); err != nil || !ctx.isObjectAuthor(entry.Author) {
			return false, nil
		}
		acc.Title = a.Title
		return true, nil

	case "review":
		var a patchReviewAction
		if err := json.Unmarshal(raw, &a); err != nil {
			return false, nil
		}
		rev := findRevision(acc, a.Revision)
		if rev == nil {
			return false, nil
		}
		verdict := ""
		if a.Verdict != nil {
			verdict = *a.Verdict
		}
		rev.Reviews = append(rev.Reviews, Review{
			By: entry.Author.String(), Verdict: verdict, Summary: a.Summary,
			Delegate: ctx.isDelegate(entry.Author),
		})
		return true, nil

	case "merge":
		var a patchMergeAction
		if err := json.Unmarshal(raw, &a); err != nil || !ctx.isDelegate(entry.Author) {
			return false, nil
		}
		if findRevision(acc, a.Revision) == nil {
			return false, nil
		}
		acc.Status = PatchMerged
		acc.MergeCommit = a.Commit
		return true, nil

	case "lifecycle":
		var a patchLifecycleAction
		if err := json.Unmarshal(raw, &a); err != nil {
			return false, nil
		}
		switch a.State {
		case PatchArchived:
			if !ctx.isDelegate(entry.Author) {
				return false, nil
			}
		default:
			if !authorOrDelegate() {
				return false, nil
			}
		}
		acc.Status = a.State
		return true, nil

	default:
		return false, nil
	}
}

// PatchSpec registers the patch type's accumulator and reducer.
func PatchSpec() TypeSpec {
	return TypeSpec{NewAccumulator: newPatchState, Reduce: reducePatch}
}

// Revert transitions a merged patch back to open, per spec §4.1 ("a
// canonical head update that is not a fast-forward ... any patches that
// were merged at the old canonical head and not reachable from the new
// one transition back to open"). This is applied by pkg/rpc (after
// canonical head election and when serving a patch), not by the fold itself —
// the fold only knows the patch's own DAG, not the rest of the
// repository's commit graph.
func Revert(state *PatchState) {
	if state.Status == PatchMerged {
		state.Status = PatchOpen
		state.MergeCommit = ""
	}
}
