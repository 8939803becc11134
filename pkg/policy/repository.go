package policy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/radicle-collab/heartwood/pkg/sigrefs"
	"github.com/radicle-collab/heartwood/pkg/store"
)

// Follow records that localNID has chosen to replicate peerNID's
// namespaces under the "followed" replication scope.
func (c *Client) Follow(ctx context.Context, localNID, peerNID string) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO followed_peers (local_nid, peer_nid) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`, localNID, peerNID)
	if err != nil {
		return fmt.Errorf("policy: follow %s: %w", peerNID, err)
	}
	return nil
}

// Unfollow removes a previously followed peer. It does not delete any
// already-replicated namespace; callers run sigrefs.Clean separately.
func (c *Client) Unfollow(ctx context.Context, localNID, peerNID string) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM followed_peers WHERE local_nid = $1 AND peer_nid = $2`, localNID, peerNID)
	if err != nil {
		return fmt.Errorf("policy: unfollow %s: %w", peerNID, err)
	}
	return nil
}

// FollowedPeers lists every NID localNID currently follows.
func (c *Client) FollowedPeers(ctx context.Context, localNID string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT peer_nid FROM followed_peers WHERE local_nid = $1 ORDER BY peer_nid`, localNID)
	if err != nil {
		return nil, fmt.Errorf("policy: list followed peers: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var nid string
		if err := rows.Scan(&nid); err != nil {
			return nil, err
		}
		out = append(out, nid)
	}
	return out, rows.Err()
}

// SeedRepo records that localNID seeds rid under the given replication
// scope.
func (c *Client) SeedRepo(ctx context.Context, rid store.RID, localNID string, scope sigrefs.Scope) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO seeded_repos (rid, local_nid, scope) VALUES ($1, $2, $3)
		 ON CONFLICT (rid, local_nid) DO UPDATE SET scope = EXCLUDED.scope`,
		string(rid), localNID, string(scope))
	if err != nil {
		return fmt.Errorf("policy: seed %s: %w", rid, err)
	}
	return nil
}

// ScopeFor returns the replication scope localNID has chosen for rid,
// or scopeDefault if no row exists.
func (c *Client) ScopeFor(ctx context.Context, rid store.RID, localNID string, scopeDefault sigrefs.Scope) (sigrefs.Scope, error) {
	var scope string
	err := c.db.QueryRowContext(ctx,
		`SELECT scope FROM seeded_repos WHERE rid = $1 AND local_nid = $2`, string(rid), localNID).Scan(&scope)
	if errors.Is(err, sql.ErrNoRows) {
		return scopeDefault, nil
	}
	if err != nil {
		return "", fmt.Errorf("policy: read scope for %s: %w", rid, err)
	}
	return sigrefs.Scope(scope), nil
}

// SetVisibilityAllow overwrites the allow-list override for a private
// repository (spec §4.1 visibility.allow).
func (c *Client) SetVisibilityAllow(ctx context.Context, rid store.RID, allowNIDs []string) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO visibility_overrides (rid, allow_nids) VALUES ($1, $2)
		 ON CONFLICT (rid) DO UPDATE SET allow_nids = EXCLUDED.allow_nids, updated_at = now()`,
		string(rid), pq.Array(allowNIDs))
	if err != nil {
		return fmt.Errorf("policy: set visibility allow-list for %s: %w", rid, err)
	}
	return nil
}

// VisibilityAllow returns the allow-list override for rid, if any.
func (c *Client) VisibilityAllow(ctx context.Context, rid store.RID) ([]string, error) {
	var allow []string
	err := c.db.QueryRowContext(ctx,
		`SELECT allow_nids FROM visibility_overrides WHERE rid = $1`, string(rid)).Scan(pq.Array(&allow))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("policy: read visibility allow-list for %s: %w", rid, err)
	}
	return allow, nil
}
