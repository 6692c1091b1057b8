package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/noah-isme/sma-portal-api/internal/models"
)

// notifyTeacher emails the assignment's teacher after a submit or resubmit.
func (s *HomeworkService) notifyTeacher(ctx context.Context, submission *models.HomeworkSubmission, assignment *models.Assignment) {
	if s.dispatcher == nil {
		return
	}
	teacher, err := s.users.FindByID(ctx, assignment.TeacherID)
	if err != nil {
		s.logger.Sugar().Warnw("failed to load teacher for notification", "teacher_id", assignment.TeacherID, "error", err)
		return
	}
	student, err := s.students.FindStudent(ctx, submission.StudentID)
	if err != nil {
		s.logger.Sugar().Warnw("failed to load student for notification", "student_id", submission.StudentID, "error", err)
		return
	}

	verb := "submitted"
	if submission.Status == models.SubmissionStatusResubmitted {
		verb = "resubmitted"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\n", teacher.FullName)
	fmt.Fprintf(&b, "%s has %s homework for %q.\n\n", student.FullName, verb, assignment.Title)
	fmt.Fprintf(&b, "Submitted: %s\n", formatDate(submission.SubmissionDate))
	if submission.IsLate {
		b.WriteString("This submission is past the due date.\n")
	}
	fmt.Fprintf(&b, "\nReview it here:\n%s\n", s.submissionURL(submission))
	fmt.Fprintf(&b, "\n%s\n", s.school.Name)

	s.dispatcher.Dispatch(ctx, models.Notification{
		Channel:   models.ChannelEmail,
		Recipient: teacher.Email,
		Subject:   fmt.Sprintf("Homework %s: %s", titleCase(verb), assignment.Title),
		Body:      b.String(),
		Reference: submission.ID,
	})
}

// notifyStudent emails the student's portal account when homework is graded,
// returned for revision or granted an extension. Students without a linked
// user account are skipped.
func (s *HomeworkService) notifyStudent(ctx context.Context, submission *models.HomeworkSubmission, event string) {
	if s.dispatcher == nil {
		return
	}
	student, err := s.students.FindStudent(ctx, submission.StudentID)
	if err != nil {
		s.logger.Sugar().Warnw("failed to load student for notification", "student_id", submission.StudentID, "error", err)
		return
	}
	if student.UserID == nil {
		return
	}
	account, err := s.users.FindByID(ctx, *student.UserID)
	if err != nil {
		s.logger.Sugar().Warnw("failed to load student account for notification", "user_id", *student.UserID, "error", err)
		return
	}

	var subject string
	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\n", student.FullName)

	switch event {
	case "graded":
		subject = "Your homework has been graded"
		if submission.Grade != nil && submission.MaxGrade != nil {
			fmt.Fprintf(&b, "Your homework has been graded: %.2f / %.2f", *submission.Grade, *submission.MaxGrade)
			if submission.Percentage != nil {
				fmt.Fprintf(&b, " (%.1f%%)", *submission.Percentage)
			}
			b.WriteString(".\n")
		} else {
			b.WriteString("Your homework has been graded.\n")
		}
	case "returned":
		subject = "Your homework needs revision"
		b.WriteString("Your homework has been returned for revision. Please review the feedback and resubmit.\n")
	case "extension":
		subject = "Homework extension granted"
		fmt.Fprintf(&b, "You have been granted an extension until %s.\n", formatDate(submission.ExtensionDate))
	default:
		subject = "Homework update"
		b.WriteString("Your homework submission has been updated.\n")
	}

	if submission.Feedback != nil && *submission.Feedback != "" {
		fmt.Fprintf(&b, "\nFeedback:\n%s\n", *submission.Feedback)
	}
	fmt.Fprintf(&b, "\nView your submission:\n%s\n", s.submissionURL(submission))
	fmt.Fprintf(&b, "\n%s\n", s.school.Name)

	s.dispatcher.Dispatch(ctx, models.Notification{
		Channel:   models.ChannelEmail,
		Recipient: account.Email,
		Subject:   subject,
		Body:      b.String(),
		Reference: submission.ID,
	})
}

func (s *HomeworkService) submissionURL(submission *models.HomeworkSubmission) string {
	return fmt.Sprintf("%s/homework/submissions/%s", strings.TrimRight(s.school.PortalBaseURL, "/"), submission.ID)
}
