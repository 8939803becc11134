package cob

import (
	"encoding/json"
)

// IssueType is the COB type name for issues (spec §3/§6).
const IssueType = "xyz.radicle.issue"

// Reaction is one emoji reaction on a comment.
type Reaction struct {
	Emoji  string `json:"emoji"`
	By     string `json:"by"`
	Active bool   `json:"active"`
}

// Comment is a single issue comment, keyed by the id of the entry whose
// "comment" action created it (spec §8 S6).
type Comment struct {
	ID        string     `json:"id"`
	Body      string     `json:"body"`
	ReplyTo   *string    `json:"replyTo,omitempty"`
	Reactions []Reaction `json:"reactions,omitempty"`
}

// IssueState is the materialized accumulator for an issue COB.
type IssueState struct {
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	Assignees []string  `json:"assignees,omitempty"`
	Labels    []string  `json:"labels,omitempty"`
	Comments  []Comment `json:"comments"`
	Timeline  []string  `json:"timeline"`
}

func newIssueState() interface{} {
	return &IssueState{Status: "open", Comments: []Comment{}, Timeline: []string{}}
}

type issueCommentAction struct {
	Type    string  `json:"type"`
	Body    string  `json:"body"`
	ReplyTo *string `json:"replyTo,omitempty"`
}

type issueReactAction struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Reaction string `json:"reaction"`
	Active   bool   `json:"active"`
}

type issueEditAction struct {
	Type  string `json:"type"`
	Title string `json:"title"`
}

type issueAssignAction struct {
	Type      string   `json:"type"`
	Assignees []string `json:"assignees"`
}

type issueLabelAction struct {
	Type   string   `json:"type"`
	Labels []string `json:"labels"`
}

type issueLifecycleAction struct {
	Type  string `json:"type"`
	State struct {
		Status string `json:"status"`
	} `json:"state"`
}

func reduceIssue(ctx FoldContext, accRaw interface{}, entry *Entry, raw json.RawMessage) (bool, error) {
	acc := accRaw.(*IssueState)

	var disc struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &disc); err != nil {
		return false, nil //nolint:nilerr // malformed action: skip, forward-compat
	}

	authorAllowed := func() bool { return true }
	delegateOrAuthor := func() bool {
		return ctx.isDelegate(entry.Author) || ctx.isObjectAuthor(entry.Author)
	}

	switch disc.Type {
	case "comment":
		var a issueCommentAction
		if err := json.Unmarshal(raw, &a); err != nil || !authorAllowed() {
			return false, nil
		}
		acc.Comments = append(acc.Comments, Comment{ID: string(entry.ID), Body: a.Body, ReplyTo: a.ReplyTo})
		acc.Timeline = append(acc.Timeline, string(entry.ID))
		return true, nil

	case "comment.react":
		var a issueReactAction
		if err := json.Unmarshal(raw, &a); err != nil {
			return false, nil
		}
		for i := range acc.Comments {
			if acc.Comments[i].ID != a.ID {
				continue
			}
			by := entry.Author.String()
			replaced := false
			for j := range acc.Comments[i].Reactions {
				r := &acc.Comments[i].Reactions[j]
				if r.Emoji == a.Reaction && r.By == by {
					r.Active = a.Active
					replaced = true
					break
				}
			}
			if !replaced {
				acc.Comments[i].Reactions = append(acc.Comments[i].Reactions, Reaction{Emoji: a.Reaction, By: by, Active: a.Active})
			}
			break
		}
		acc.Timeline = append(acc.Timeline, string(entry.ID))
		return true, nil

	case "edit":
		var a issueEditAction
		if err := json.Unmarshal(raw, &a); err != nil || !delegateOrAuthor() {
			return false, nil
		}
		acc.Title = a.Title
		acc.Timeline = append(acc.Timeline, string(entry.ID))
		return true, nil

	case "assign":
		var a issueAssignAction
		if err := json.Unmarshal(raw, &a); err != nil {
			return false, nil
		}
		acc.Assignees = a.Assignees
		acc.Timeline = append(acc.Timeline, string(entry.ID))
		return true, nil

	case "label":
		var a issueLabelAction
		if err := json.Unmarshal(raw, &a); err != nil {
			return false, nil
		}
		acc.Labels = a.Labels
		acc.Timeline = append(acc.Timeline, string(entry.ID))
		return true, nil

	case "lifecycle":
		var a issueLifecycleAction
		if err := json.Unmarshal(raw, &a); err != nil || !delegateOrAuthor() {
			return false, nil
		}
		acc.Status = a.State.Status
		acc.Timeline = append(acc.Timeline, string(entry.ID))
		return true, nil

	default:
		// Unknown action type: stored verbatim, skipped by the fold.
		return false, nil
	}
}

// IssueSpec registers the issue type's accumulator and reducer.
func IssueSpec() TypeSpec {
	return TypeSpec{NewAccumulator: newIssueState, Reduce: reduceIssue}
}
