// Unit tests for the policy database client. Mirrors the teacher's
// pkg/database test style: real Postgres via an env-configured test
// database, skipped entirely when none is available.
package policy

import (
	"context"
	"os"
	"testing"

	"github.com/radicle-collab/heartwood/pkg/config"
	"github.com/radicle-collab/heartwood/pkg/sigrefs"
)

var testClient *Client

func TestMain(m *testing.M) {
	connStr := os.Getenv("HEARTWOOD_TEST_POLICY_DATABASE_URL")
	if connStr == "" {
		os.Exit(0)
	}

	var err error
	testClient, err = NewClient(&config.Config{PolicyDatabaseURL: connStr})
	if err != nil {
		panic("connect to test policy database: " + err.Error())
	}
	if err := testClient.MigrateUp(context.Background()); err != nil {
		panic("migrate test policy database: " + err.Error())
	}

	code := m.Run()
	testClient.Close()
	os.Exit(code)
}

func TestFollowUnfollow(t *testing.T) {
	if testClient == nil {
		t.Skip("HEARTWOOD_TEST_POLICY_DATABASE_URL not configured")
	}
	ctx := context.Background()
	const local, peer = "z6MkTestLocal", "z6MkTestPeer"

	if err := testClient.Follow(ctx, local, peer); err != nil {
		t.Fatalf("Follow: %v", err)
	}
	peers, err := testClient.FollowedPeers(ctx, local)
	if err != nil {
		t.Fatalf("FollowedPeers: %v", err)
	}
	if !contains(peers, peer) {
		t.Fatalf("expected %s in followed peers, got %v", peer, peers)
	}

	if err := testClient.Unfollow(ctx, local, peer); err != nil {
		t.Fatalf("Unfollow: %v", err)
	}
	peers, err = testClient.FollowedPeers(ctx, local)
	if err != nil {
		t.Fatalf("FollowedPeers after unfollow: %v", err)
	}
	if contains(peers, peer) {
		t.Fatalf("expected %s removed from followed peers, got %v", peer, peers)
	}
}

func TestSeedRepoScopeFor(t *testing.T) {
	if testClient == nil {
		t.Skip("HEARTWOOD_TEST_POLICY_DATABASE_URL not configured")
	}
	ctx := context.Background()
	const local, rid = "z6MkTestLocal2", "rad:zTestRepo"

	scope, err := testClient.ScopeFor(ctx, rid, local, sigrefs.ScopeFollowed)
	if err != nil {
		t.Fatalf("ScopeFor default: %v", err)
	}
	if scope != sigrefs.ScopeFollowed {
		t.Fatalf("expected default scope %q, got %q", sigrefs.ScopeFollowed, scope)
	}

	if err := testClient.SeedRepo(ctx, rid, local, sigrefs.ScopeAll); err != nil {
		t.Fatalf("SeedRepo: %v", err)
	}
	scope, err = testClient.ScopeFor(ctx, rid, local, sigrefs.ScopeFollowed)
	if err != nil {
		t.Fatalf("ScopeFor after seed: %v", err)
	}
	if scope != sigrefs.ScopeAll {
		t.Fatalf("expected seeded scope %q, got %q", sigrefs.ScopeAll, scope)
	}
}

func TestVisibilityAllowOverride(t *testing.T) {
	if testClient == nil {
		t.Skip("HEARTWOOD_TEST_POLICY_DATABASE_URL not configured")
	}
	ctx := context.Background()
	const rid = "rad:zTestRepoVisibility"

	allow, err := testClient.VisibilityAllow(ctx, rid)
	if err != nil {
		t.Fatalf("VisibilityAllow before set: %v", err)
	}
	if len(allow) != 0 {
		t.Fatalf("expected no override, got %v", allow)
	}

	want := []string{"z6MkAllowed1", "z6MkAllowed2"}
	if err := testClient.SetVisibilityAllow(ctx, rid, want); err != nil {
		t.Fatalf("SetVisibilityAllow: %v", err)
	}
	got, err := testClient.VisibilityAllow(ctx, rid)
	if err != nil {
		t.Fatalf("VisibilityAllow after set: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
