package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to JobState
		allowed  bool
	}{
		{JobStatePending, JobStateProcessing, true},
		{JobStateProcessing, JobStateCompleted, true},
		{JobStateProcessing, JobStateFailed, true},
		{JobStateProcessing, JobStatePending, true},
		{JobStatePending, JobStateCompleted, false},
		{JobStatePending, JobStateFailed, false},
		{JobStateCompleted, JobStatePending, false},
		{JobStateCompleted, JobStateProcessing, false},
		{JobStateFailed, JobStatePending, false},
		{JobStateFailed, JobStateCompleted, false},
		{JobStateProcessing, JobStateProcessing, false},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.allowed, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestAllowedSources(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []JobState{JobStateProcessing}, AllowedSources(JobStateCompleted))
	assert.Equal(t, []JobState{JobStateProcessing}, AllowedSources(JobStateFailed))
	assert.Equal(t, []JobState{JobStateProcessing}, AllowedSources(JobStatePending))
	assert.Equal(t, []JobState{JobStatePending}, AllowedSources(JobStateProcessing))
}

func TestParseJobState(t *testing.T) {
	t.Parallel()

	state, err := ParseJobState(" Completed ")
	require.NoError(t, err)
	assert.Equal(t, JobStateCompleted, state)

	_, err = ParseJobState("archived")
	assert.ErrorIs(t, err, ErrInvalidJobState)
}

func TestValidateLabel(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateLabel("photosynthesis"))
	assert.ErrorIs(t, ValidateLabel("   "), ErrEmptyLabel)
	assert.ErrorIs(t, ValidateLabel(strings.Repeat("x", MaxLabelLength+1)), ErrLabelTooLong)
}

func TestJobDisplayLabel(t *testing.T) {
	t.Parallel()

	job := &Job{SubmittedLabel: "colour"}
	assert.Equal(t, "colour", job.DisplayLabel())

	resolved := "color"
	job.ResolvedLabel = &resolved
	assert.Equal(t, "color", job.DisplayLabel())
	assert.False(t, job.IsTerminal())

	job.State = JobStateFailed
	assert.True(t, job.IsTerminal())
}
