package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubmissionStatusCanTransition(t *testing.T) {
	cases := []struct {
		from    SubmissionStatus
		to      SubmissionStatus
		allowed bool
	}{
		{SubmissionStatusDraft, SubmissionStatusSubmitted, true},
		{SubmissionStatusDraft, SubmissionStatusGraded, false},
		{SubmissionStatusSubmitted, SubmissionStatusGraded, true},
		{SubmissionStatusSubmitted, SubmissionStatusReturned, true},
		{SubmissionStatusSubmitted, SubmissionStatusResubmitted, false},
		{SubmissionStatusReturned, SubmissionStatusResubmitted, true},
		{SubmissionStatusReturned, SubmissionStatusGraded, false},
		{SubmissionStatusResubmitted, SubmissionStatusGraded, true},
		{SubmissionStatusResubmitted, SubmissionStatusReturned, true},
		{SubmissionStatusGraded, SubmissionStatusSubmitted, false},
		{SubmissionStatusGraded, SubmissionStatusReturned, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransition(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestEffectiveDueDate(t *testing.T) {
	due := time.Date(2024, 9, 10, 0, 0, 0, 0, time.UTC)
	extended := due.AddDate(0, 0, 5)

	sub := &HomeworkSubmission{}
	assert.Equal(t, due, sub.EffectiveDueDate(due))

	sub.ExtensionDate = &extended
	assert.Equal(t, due, sub.EffectiveDueDate(due), "extension date without grant is ignored")

	sub.ExtensionGranted = true
	assert.Equal(t, extended, sub.EffectiveDueDate(due))
}

func TestCountedStatusesExcludeDraft(t *testing.T) {
	for _, status := range CountedStatuses {
		assert.NotEqual(t, SubmissionStatusDraft, status)
	}
	assert.Len(t, CountedStatuses, 4)
}
