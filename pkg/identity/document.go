// Copyright 2025 heartwood contributors
//
// Package identity implements the identity & canonical election layer:
// the versioned identity document, quorum-gated revisions (modeled as a
// pkg/cob COB of type xyz.radicle.id), and canonical default-branch
// election over delegate votes.
package identity

import (
	"encoding/json"
	"fmt"

	"github.com/radicle-collab/heartwood/pkg/radcrypto"
)

// ProjectPayloadKey is the payload domain carrying the project's name and
// default branch (spec §3).
const ProjectPayloadKey = "xyz.radicle.project"

// ProjectPayload is the conventional shape of the xyz.radicle.project
// payload entry.
type ProjectPayload struct {
	Name          string `json:"name"`
	DefaultBranch string `json:"defaultBranch"`
	Description   string `json:"description,omitempty"`
}

// VisibilityType enumerates the identity document's visibility modes.
type VisibilityType string

const (
	VisibilityPublic  VisibilityType = "public"
	VisibilityPrivate VisibilityType = "private"
)

// Visibility is the optional visibility rule of an identity document.
type Visibility struct {
	Type  VisibilityType  `json:"type"`
	Allow []radcrypto.NID `json:"allow,omitempty"`
}

// CanonicalRefRule is one entry of a version-2 document's
// canonicalRefs.rules map.
type CanonicalRefRule struct {
	Allow     string `json:"allow"` // "delegates"
	Threshold int    `json:"threshold"`
}

// CanonicalRefs is the version-2 schema addition (spec §3).
type CanonicalRefs struct {
	Rules map[string]CanonicalRefRule `json:"rules"`
}

// Document is the versioned identity document (spec §3).
type Document struct {
	Payload       map[string]json.RawMessage `json:"payload"`
	Delegates     []radcrypto.NID            `json:"delegates"`
	Threshold     int                        `json:"threshold"`
	Visibility    *Visibility                `json:"visibility,omitempty"`
	CanonicalRefs *CanonicalRefs             `json:"canonicalRefs,omitempty"`
}

// Project unmarshals the xyz.radicle.project payload.
func (d Document) Project() (ProjectPayload, error) {
	raw, ok := d.Payload[ProjectPayloadKey]
	if !ok {
		return ProjectPayload{}, fmt.Errorf("identity: missing mandatory %s payload", ProjectPayloadKey)
	}
	var p ProjectPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return ProjectPayload{}, fmt.Errorf("identity: decode %s payload: %w", ProjectPayloadKey, err)
	}
	return p, nil
}

// Validate checks the invariants of spec §3(a)/(b): threshold within
// [1, |delegates|], and the mandatory defaultBranch payload field present.
func (d Document) Validate() error {
	if d.Threshold < 1 || d.Threshold > len(d.Delegates) {
		return fmt.Errorf("identity: threshold %d invalid for %d delegate(s)", d.Threshold, len(d.Delegates))
	}
	project, err := d.Project()
	if err != nil {
		return err
	}
	if project.DefaultBranch == "" {
		return fmt.Errorf("identity: defaultBranch payload field must not be empty")
	}
	return nil
}

// IsDelegate reports whether nid is one of the document's delegates.
func (d Document) IsDelegate(nid radcrypto.NID) bool {
	for _, del := range d.Delegates {
		if del.Equal(nid) {
			return true
		}
	}
	return false
}

// IsAllowed reports whether nid may fetch a private repository governed
// by this document (spec §4.1 "Private repositories").
func (d Document) IsAllowed(nid radcrypto.NID) bool {
	if d.Visibility == nil || d.Visibility.Type != VisibilityPrivate {
		return true
	}
	if d.IsDelegate(nid) {
		return true
	}
	for _, allowed := range d.Visibility.Allow {
		if allowed.Equal(nid) {
			return true
		}
	}
	return false
}
