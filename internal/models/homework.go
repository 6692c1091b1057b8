package models

import "time"

// SubmissionStatus represents the lifecycle of a homework submission.
type SubmissionStatus string

// Possible submission statuses.
const (
	SubmissionStatusDraft       SubmissionStatus = "DRAFT"
	SubmissionStatusSubmitted   SubmissionStatus = "SUBMITTED"
	SubmissionStatusGraded      SubmissionStatus = "GRADED"
	SubmissionStatusReturned    SubmissionStatus = "RETURNED"
	SubmissionStatusResubmitted SubmissionStatus = "RESUBMITTED"
)

// submissionTransitions is the legal transition table for submissions. Graded
// is soft-terminal: a graded record may still be re-graded by direct edit,
// which reruns validation only and is not a guarded transition.
var submissionTransitions = map[SubmissionStatus][]SubmissionStatus{
	SubmissionStatusDraft:       {SubmissionStatusSubmitted},
	SubmissionStatusSubmitted:   {SubmissionStatusGraded, SubmissionStatusReturned},
	SubmissionStatusResubmitted: {SubmissionStatusGraded, SubmissionStatusReturned},
	SubmissionStatusReturned:    {SubmissionStatusResubmitted},
}

// CanTransition reports whether moving from one submission status to another is legal.
func (s SubmissionStatus) CanTransition(to SubmissionStatus) bool {
	for _, next := range submissionTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// CountedStatuses are the statuses included in assignment submission totals.
var CountedStatuses = []SubmissionStatus{
	SubmissionStatusSubmitted,
	SubmissionStatusGraded,
	SubmissionStatusReturned,
	SubmissionStatusResubmitted,
}

// Assignment holds the homework definition a submission references.
type Assignment struct {
	ID                string     `db:"id" json:"id"`
	Title             string     `db:"title" json:"title"`
	Description       string     `db:"description" json:"description"`
	TeacherID         string     `db:"teacher_id" json:"teacher_id"`
	DueDate           time.Time  `db:"due_date" json:"due_date"`
	MaxGrade          float64    `db:"max_grade" json:"max_grade"`
	TotalSubmissions  int        `db:"total_submissions" json:"total_submissions"`
	GradedSubmissions int        `db:"graded_submissions" json:"graded_submissions"`
	AverageGrade      float64    `db:"average_grade" json:"average_grade"`
	StatsUpdatedAt    *time.Time `db:"stats_updated_at" json:"stats_updated_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// HomeworkSubmission tracks a student's homework artifact through grading.
type HomeworkSubmission struct {
	ID              string           `db:"id" json:"id"`
	AssignmentID    string           `db:"assignment_id" json:"assignment_id"`
	StudentID       string           `db:"student_id" json:"student_id"`
	SubmissionText  string           `db:"submission_text" json:"submission_text"`
	Attachments     []string         `db:"-" json:"attachments,omitempty"`
	SubmissionDate  *time.Time       `db:"submission_date" json:"submission_date,omitempty"`
	SubmissionTime  *time.Time       `db:"submission_time" json:"submission_time,omitempty"`
	Grade           *float64         `db:"grade" json:"grade,omitempty"`
	MaxGrade        *float64         `db:"max_grade" json:"max_grade,omitempty"`
	Percentage      *float64         `db:"percentage" json:"percentage,omitempty"`
	IsLate          bool             `db:"is_late" json:"is_late"`
	ExtensionGranted bool            `db:"extension_granted" json:"extension_granted"`
	ExtensionDate   *time.Time       `db:"extension_date" json:"extension_date,omitempty"`
	LateReason      *string          `db:"late_reason" json:"late_reason,omitempty"`
	Status          SubmissionStatus `db:"status" json:"status"`
	Feedback        *string          `db:"feedback" json:"feedback,omitempty"`
	GradedBy        *string          `db:"graded_by" json:"graded_by,omitempty"`
	GradedDate      *time.Time       `db:"graded_date" json:"graded_date,omitempty"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
}

// EffectiveDueDate returns the extension date when an extension was granted,
// otherwise the assignment due date.
func (s *HomeworkSubmission) EffectiveDueDate(assignmentDue time.Time) time.Time {
	if s.ExtensionGranted && s.ExtensionDate != nil {
		return *s.ExtensionDate
	}
	return assignmentDue
}

// SubmissionFilter provides filters for listing homework submissions.
type SubmissionFilter struct {
	AssignmentID string
	StudentID    string
	Status       SubmissionStatus
	IsLate       *bool
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}

// AssignmentStats carries recomputed aggregate statistics for an assignment.
type AssignmentStats struct {
	AssignmentID      string    `json:"assignment_id"`
	TotalSubmissions  int       `json:"total_submissions"`
	GradedSubmissions int       `json:"graded_submissions"`
	AverageGrade      float64   `json:"average_grade"`
	ComputedAt        time.Time `json:"computed_at"`
}
