package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxLabelLength is the longest label, in characters, accepted at submission.
const MaxLabelLength = 512

// JobState represents the lifecycle state of a job
type JobState string

// Possible job state values
const (
	JobStatePending    JobState = "pending"
	JobStateProcessing JobState = "processing"
	JobStateCompleted  JobState = "completed"
	JobStateFailed     JobState = "failed"
)

// AllJobStates lists every state in lifecycle order.
var AllJobStates = []JobState{
	JobStatePending,
	JobStateProcessing,
	JobStateCompleted,
	JobStateFailed,
}

// transitions holds the legal edges of the job lifecycle. processing -> pending
// is the only backwards edge; it is taken on transport retry, credential
// exhaustion and stale-claim reset.
var transitions = map[JobState][]JobState{
	JobStatePending:    {JobStateProcessing},
	JobStateProcessing: {JobStateCompleted, JobStateFailed, JobStatePending},
}

// Job is one unit of work: a submitted label that is turned into generated
// content. It is identified by ID for its entire life; the labels are display
// data only and are never used to look a job up.
type Job struct {
	ID             int64           `json:"id"`
	SubmittedLabel string          `json:"submitted_label"`
	ResolvedLabel  *string         `json:"resolved_label,omitempty"`
	Content        json.RawMessage `json:"content,omitempty"`
	State          JobState        `json:"state"`
	Attempts       int             `json:"attempts"`
	ErrorDetail    string          `json:"error_detail,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ClaimedJob is the projection of a job handed to a worker by a claim.
type ClaimedJob struct {
	ID       int64
	Label    string
	Attempts int
}

// IsTerminal reports whether the job has reached a final state.
func (j *Job) IsTerminal() bool {
	return j.State.IsTerminal()
}

// DisplayLabel returns the resolved label when the generator supplied one and
// the submitted label otherwise.
func (j *Job) DisplayLabel() string {
	if j.ResolvedLabel != nil && *j.ResolvedLabel != "" {
		return *j.ResolvedLabel
	}
	return j.SubmittedLabel
}

// Valid reports whether s is a known job state.
func (s JobState) Valid() bool {
	switch s {
	case JobStatePending, JobStateProcessing, JobStateCompleted, JobStateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are possible from s.
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// ParseJobState converts a string into a JobState, rejecting unknown values.
func ParseJobState(s string) (JobState, error) {
	state := JobState(strings.ToLower(strings.TrimSpace(s)))
	if !state.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidJobState, s)
	}
	return state, nil
}

// CanTransition reports whether a job may move from one state to another.
func CanTransition(from, to JobState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AllowedSources returns the states from which a job may move into to.
// Stores use it to guard id-addressed updates so that a late or duplicate
// write can never move a job backwards.
func AllowedSources(to JobState) []JobState {
	var sources []JobState
	for _, from := range AllJobStates {
		if CanTransition(from, to) {
			sources = append(sources, from)
		}
	}
	return sources
}

// ValidateLabel checks a label supplied at submission.
func ValidateLabel(label string) error {
	if strings.TrimSpace(label) == "" {
		return ErrEmptyLabel
	}
	if utf8.RuneCountInString(label) > MaxLabelLength {
		return fmt.Errorf("%w: %d characters allowed", ErrLabelTooLong, MaxLabelLength)
	}
	return nil
}
