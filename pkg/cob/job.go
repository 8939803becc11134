package cob

import "encoding/json"

// JobType is the COB type name for CI/automation jobs — named in spec §3
// as an example type alongside issue/patch/id but left unspecified; see
// SPEC_FULL.md §4 for the minimal schema implemented here.
const JobType = "xyz.radicle.job"

const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)

// JobState is the materialized accumulator for a job COB.
type JobState struct {
	Status   string   `json:"status"`
	Timeline []string `json:"timeline"`
}

func newJobState() interface{} {
	return &JobState{Status: JobQueued, Timeline: []string{}}
}

type jobLifecycleAction struct {
	Type  string `json:"type"`
	State struct {
		Status string `json:"status"`
	} `json:"state"`
}

func reduceJob(_ FoldContext, accRaw interface{}, entry *Entry, raw json.RawMessage) (bool, error) {
	acc := accRaw.(*JobState)

	var disc struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &disc); err != nil || disc.Type != "lifecycle" {
		return false, nil //nolint:nilerr
	}
	var a jobLifecycleAction
	if err := json.Unmarshal(raw, &a); err != nil {
		return false, nil
	}
	acc.Status = a.State.Status
	acc.Timeline = append(acc.Timeline, string(entry.ID))
	return true, nil
}

// JobSpec registers the job type's accumulator and reducer. Any replicating
// peer may report job status — jobs are CI/automation reporting, not a
// trust decision, so there is no delegate gate here.
func JobSpec() TypeSpec {
	return TypeSpec{NewAccumulator: newJobState, Reduce: reduceJob}
}
