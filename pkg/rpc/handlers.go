// Package rpc exposes the node's read-only HTTP surface: materialized
// COB state, identity documents, and canonical head lookups, plus a
// Prometheus /metrics endpoint. It is a thin shell over pkg/cob,
// pkg/identity, and pkg/store — it holds no trust logic of its own.
package rpc

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/radicle-collab/heartwood/pkg/cob"
	"github.com/radicle-collab/heartwood/pkg/identity"
	"github.com/radicle-collab/heartwood/pkg/raderr"
	"github.com/radicle-collab/heartwood/pkg/radcrypto"
	"github.com/radicle-collab/heartwood/pkg/store"
)

// Handlers serves the read API over a node's store, COB engine, and
// identity service.
type Handlers struct {
	store    *store.Store
	engine   *cob.Engine
	identity *identity.Service
	logger   *log.Logger
}

// NewHandlers wires a Handlers over the core services.
func NewHandlers(s *store.Store, engine *cob.Engine, idSvc *identity.Service, logger *log.Logger) *Handlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[rpc] ", log.LstdFlags)
	}
	return &Handlers{store: s, engine: engine, identity: idSvc, logger: logger}
}

func (h *Handlers) requestLogger(r *http.Request) *log.Logger {
	id := uuid.New().String()
	return log.New(h.logger.Writer(), "[rpc "+id+"] ", log.LstdFlags)
}

// HandleCobShow serves GET /v1/repos/{rid}/cobs/{type}/{id}, returning
// the materialized state of one COB (spec §6 "cob show JSON shape").
func (h *Handlers) HandleCobShow(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)
	if r.Method != http.MethodGet {
		writeError(w, logger, "cob_show", http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rid, typeName, objectID, ok := parseCobPath(r.URL.Path)
	if !ok {
		writeError(w, logger, "cob_show", http.StatusBadRequest, "expected /v1/repos/{rid}/cobs/{type}/{id}")
		return
	}

	isDelegate := h.isDelegateFunc(store.RID(rid))

	ctx := cob.FoldContext{IsDelegate: isDelegate}
	start := time.Now()
	state, err := h.engine.Load(store.RID(rid), typeName, cob.ObjectID(objectID), ctx)
	ObserveFold(typeName, time.Since(start).Seconds())
	if err != nil {
		writeCoreError(w, logger, "cob_show", err)
		return
	}
	if patch, ok := state.(*cob.PatchState); ok {
		h.reconcilePatchStatus(store.RID(rid), patch)
	}
	writeJSON(w, logger, "cob_show", http.StatusOK, map[string]interface{}{
		"rid":   rid,
		"type":  typeName,
		"id":    objectID,
		"state": state,
	})
}

// HandleCobLog serves GET /v1/repos/{rid}/cobs/{type}/{id}/log, the
// deterministic entry order used by the fold (spec §4.2).
func (h *Handlers) HandleCobLog(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)
	rid, typeName, objectID, ok := parseCobPath(strings.TrimSuffix(r.URL.Path, "/log"))
	if !ok {
		writeError(w, logger, "cob_log", http.StatusBadRequest, "expected /v1/repos/{rid}/cobs/{type}/{id}/log")
		return
	}
	entries, err := h.engine.Log(store.RID(rid), typeName, cob.ObjectID(objectID))
	if err != nil {
		writeCoreError(w, logger, "cob_log", err)
		return
	}
	writeJSON(w, logger, "cob_log", http.StatusOK, entries)
}

// HandleIdentityShow serves GET /v1/repos/{rid}/identity, the currently
// accepted identity document (spec §4.1 canonical_id).
func (h *Handlers) HandleIdentityShow(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)
	rid := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/repos/"), "/identity")
	if rid == "" {
		writeError(w, logger, "identity_show", http.StatusBadRequest, "expected /v1/repos/{rid}/identity")
		return
	}

	objectID, err := h.identity.IdentityRoot(store.RID(rid))
	if err != nil {
		writeCoreError(w, logger, "identity_show", err)
		return
	}
	doc, err := h.identity.CanonicalID(store.RID(rid), objectID, h.isDelegateFunc(store.RID(rid)))
	if err != nil {
		writeCoreError(w, logger, "identity_show", err)
		return
	}
	writeJSON(w, logger, "identity_show", http.StatusOK, doc)
}

// HandleRefs serves GET /v1/repos/{rid}/refs, a flat dump of every ref
// known for the repository across all namespaces plus the canonical
// refs — mainly a debugging and sigrefs-inspection aid.
func (h *Handlers) HandleRefs(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)
	rid := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/repos/"), "/refs")
	if rid == "" {
		writeError(w, logger, "refs", http.StatusBadRequest, "expected /v1/repos/{rid}/refs")
		return
	}
	refs, err := h.store.ListRefs(store.RID(rid), "")
	if err != nil {
		writeCoreError(w, logger, "refs", err)
		return
	}
	writeJSON(w, logger, "refs", http.StatusOK, refs)
}

// HandleCanonicalHead serves GET /v1/repos/{rid}/head: it re-runs
// canonical head election (spec §4.1 canonical_head) over the accepted
// identity document's delegates and their current namespaced branch
// tips, persists an advance to the canonical refs/heads/<defaultBranch>
// ref, and reports the outcome. A quorum-not-met result is not an error
// (spec §4.1): the canonical pointer simply does not advance.
func (h *Handlers) HandleCanonicalHead(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)
	rid := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/repos/"), "/head")
	if rid == "" {
		writeError(w, logger, "canonical_head", http.StatusBadRequest, "expected /v1/repos/{rid}/head")
		return
	}

	objectID, err := h.identity.IdentityRoot(store.RID(rid))
	if err != nil {
		writeCoreError(w, logger, "canonical_head", err)
		return
	}
	isDelegate := h.isDelegateFunc(store.RID(rid))
	doc, err := h.identity.CanonicalID(store.RID(rid), objectID, isDelegate)
	if err != nil {
		writeCoreError(w, logger, "canonical_head", err)
		return
	}
	project, err := doc.Project()
	if err != nil {
		writeCoreError(w, logger, "canonical_head", err)
		return
	}

	branchTips := make(map[string]string, len(doc.Delegates))
	for _, delegate := range doc.Delegates {
		if tip, ok, err := h.store.ReadRef(store.RID(rid), store.NamespacedHead(delegate.String(), project.DefaultBranch)); err == nil && ok {
			branchTips[delegate.String()] = tip
		}
	}

	snap, err := h.identity.CanonicalHead(store.RID(rid), objectID, branchTips, flatCommitGraph{}, isDelegate, time.Now())
	if err != nil {
		if raderr.Is(err, raderr.KindQuorumNotMet) {
			ObserveElection("quorum_not_met")
			writeJSON(w, logger, "canonical_head", http.StatusOK, map[string]interface{}{
				"rid": rid, "advanced": false, "reason": err.Error(),
			})
			return
		}
		writeCoreError(w, logger, "canonical_head", err)
		return
	}

	if err := h.store.Transaction(store.RID(rid), func(txn *store.Txn) error {
		txn.SetRef(store.CanonicalHead(project.DefaultBranch), snap.Head)
		return nil
	}); err != nil {
		writeCoreError(w, logger, "canonical_head", err)
		return
	}
	ObserveElection("elected")

	reverted, err := h.revertPatches(store.RID(rid), snap.Head)
	if err != nil {
		logger.Printf("patch revert sweep: %v", err)
	}
	writeJSON(w, logger, "canonical_head", http.StatusOK, map[string]interface{}{
		"advanced": true, "snapshot": snap, "reverted": reverted,
	})
}

// revertPatches sweeps every patch COB in rid and reverts the ones
// spec §4.1/§8 S3 calls for: a patch merged at a commit the newly
// elected canonicalHead no longer descends from transitions back to
// open. Patch status is derived fresh from its DAG on every read, so
// this recomputes the same answer a lazy cob_show reconciliation would
// (see reconcilePatchStatus) — it exists here to report the sweep as
// part of the election response rather than leave it implicit.
func (h *Handlers) revertPatches(rid store.RID, canonicalHead string) ([]string, error) {
	ids, err := h.patchObjectIDs(rid)
	if err != nil {
		return nil, err
	}
	isDelegate := h.isDelegateFunc(rid)
	reverted := make([]string, 0)
	for _, id := range ids {
		raw, err := h.engine.Load(rid, cob.PatchType, cob.ObjectID(id), cob.FoldContext{IsDelegate: isDelegate})
		if err != nil {
			continue
		}
		state, ok := raw.(*cob.PatchState)
		if !ok || state.Status != cob.PatchMerged || state.MergeCommit == "" {
			continue
		}
		reachable, err := (flatCommitGraph{}).IsAncestor(state.MergeCommit, canonicalHead)
		if err != nil || reachable {
			continue
		}
		cob.Revert(state)
		reverted = append(reverted, id)
	}
	return reverted, nil
}

// reconcilePatchStatus applies the same revert rule as revertPatches at
// cob_show time, using whatever canonical head is currently on disk, so
// a patch's reported status stays correct even when nobody has re-run
// election since the head last advanced.
func (h *Handlers) reconcilePatchStatus(rid store.RID, state *cob.PatchState) {
	if state.Status != cob.PatchMerged || state.MergeCommit == "" {
		return
	}
	objectID, err := h.identity.IdentityRoot(rid)
	if err != nil {
		return
	}
	doc, err := h.identity.CanonicalID(rid, objectID, h.isDelegateFunc(rid))
	if err != nil {
		return
	}
	project, err := doc.Project()
	if err != nil {
		return
	}
	head, ok, err := h.store.ReadRef(rid, store.CanonicalHead(project.DefaultBranch))
	if err != nil || !ok || head == "" {
		return
	}
	if reachable, err := (flatCommitGraph{}).IsAncestor(state.MergeCommit, head); err == nil && !reachable {
		cob.Revert(state)
	}
}

// patchObjectIDs enumerates every distinct patch COB object id known
// locally, scanning namespaced cob refs the way collectDAG does
// internally for a single object.
func (h *Handlers) patchObjectIDs(rid store.RID) ([]string, error) {
	refs, err := h.store.ListRefs(rid, "refs/namespaces/")
	if err != nil {
		return nil, raderr.Wrap(raderr.KindStorageTransient, "list namespaces", err)
	}
	marker := "/refs/cobs/" + cob.PatchType + "/"
	seen := make(map[string]bool)
	ids := make([]string, 0)
	for name := range refs {
		idx := strings.Index(name, marker)
		if idx == -1 {
			continue
		}
		id := name[idx+len(marker):]
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

// flatCommitGraph is the degenerate CommitGraph used absent a wired git
// backend (spec's non-goal of reimplementing DVCS merge/ancestry logic):
// it knows no real parentage, so election only fast-forwards when
// branch tips are byte-identical and otherwise falls back to the
// deterministic lexicographic tie-break over equally-unranked tips.
type flatCommitGraph struct{}

func (flatCommitGraph) IsAncestor(ancestor, descendant string) (bool, error) {
	return ancestor == descendant, nil
}

func (flatCommitGraph) Depth(commit string) (int, error) { return 0, nil }

// isDelegateFunc resolves the repository's currently accepted identity
// document (if any) and returns a delegate-membership predicate over
// it. A repository with no identity chain yet has no delegates.
func (h *Handlers) isDelegateFunc(rid store.RID) func(radcrypto.NID) bool {
	objectID, err := h.identity.IdentityRoot(rid)
	if err != nil {
		return func(radcrypto.NID) bool { return false }
	}
	doc, err := h.identity.CanonicalID(rid, objectID, func(radcrypto.NID) bool { return true })
	if err != nil {
		return func(radcrypto.NID) bool { return false }
	}
	return doc.IsDelegate
}

func parseCobPath(path string) (rid, typeName, objectID string, ok bool) {
	const prefix = "/v1/repos/"
	if !strings.HasPrefix(path, prefix) {
		return "", "", "", false
	}
	rest := strings.Split(strings.TrimPrefix(path, prefix), "/")
	if len(rest) != 4 || rest[1] != "cobs" {
		return "", "", "", false
	}
	return rest[0], rest[2], rest[3], true
}

func writeJSON(w http.ResponseWriter, logger *log.Logger, route string, status int, data interface{}) {
	recordRequest(route, strconv.Itoa(status))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Printf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, logger *log.Logger, route string, status int, message string) {
	writeJSON(w, logger, route, status, map[string]string{"error": message})
}

func writeCoreError(w http.ResponseWriter, logger *log.Logger, route string, err error) {
	status := http.StatusInternalServerError
	switch {
	case raderr.Is(err, raderr.KindNotFound):
		status = http.StatusNotFound
	case raderr.Is(err, raderr.KindUnauthorized), raderr.Is(err, raderr.KindNotADelegate):
		status = http.StatusForbidden
	case raderr.Is(err, raderr.KindVerificationFailed), raderr.Is(err, raderr.KindConflictingThreshold):
		status = http.StatusConflict
	}
	logger.Printf("request failed: %v", err)
	writeError(w, logger, route, status, err.Error())
}
