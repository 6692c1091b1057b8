package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/noah-isme/sma-portal-api/internal/models"
)

// notifySchool emails the responsible staff member and the education manager
// after a guardian action. Failures never surface to the guardian: dispatch
// is queued and the transition is already committed.
func (s *ConsentService) notifySchool(ctx context.Context, consent *models.ConsentRequest, action string, reason *string) {
	body := s.schoolNotificationBody(consent, action, reason)
	subject := fmt.Sprintf("Consent %s: %s", titleCase(action), consent.Title)

	var notifications []models.Notification
	if consent.ResponsibleStaff != nil && *consent.ResponsibleStaff != "" {
		notifications = append(notifications, models.Notification{
			Channel:   models.ChannelEmail,
			Recipient: *consent.ResponsibleStaff,
			Subject:   subject,
			Body:      body,
			Reference: consent.ID,
		})
	}
	manager := s.school.EducationManager
	if manager != "" && (consent.ResponsibleStaff == nil || manager != *consent.ResponsibleStaff) {
		notifications = append(notifications, models.Notification{
			Channel:   models.ChannelEmail,
			Recipient: manager,
			Subject:   fmt.Sprintf("Consent Update: %s", consent.Title),
			Body:      body,
			Reference: consent.ID,
		})
	}
	s.dispatch(ctx, notifications...)
}

func (s *ConsentService) schoolNotificationBody(consent *models.ConsentRequest, action string, reason *string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The consent request %q for student %s has been %s.\n\n", consent.Title, consent.StudentID, action)
	fmt.Fprintf(&b, "Status: %s\n", consent.Status)
	fmt.Fprintf(&b, "Activity Date: %s\n", formatDate(consent.ActivityDate))
	if consent.ConsentDate != nil {
		fmt.Fprintf(&b, "Responded At: %s\n", formatDate(consent.ConsentDate))
	}
	if reason != nil && *reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", *reason)
	}
	fmt.Fprintf(&b, "\nView the record:\n%s\n", s.consentFormURL(consent))
	return b.String()
}

func (s *ConsentService) consentRequestEmailBody(consent *models.ConsentRequest, student *models.Student) string {
	var b strings.Builder
	b.WriteString("Dear Parent/Guardian,\n\n")
	b.WriteString("We are requesting your consent for the following activity involving your child:\n\n")
	fmt.Fprintf(&b, "Student: %s\n", student.FullName)
	fmt.Fprintf(&b, "Activity: %s\n", consent.Title)
	fmt.Fprintf(&b, "Type: %s\n", consent.ConsentType)
	fmt.Fprintf(&b, "Date: %s\n", formatDate(consent.ActivityDate))
	if consent.ActivityLocation != nil {
		fmt.Fprintf(&b, "Location: %s\n", *consent.ActivityLocation)
	}
	if consent.Description != "" {
		fmt.Fprintf(&b, "\nDescription:\n%s\n", consent.Description)
	}
	if consent.ResponsibleStaff != nil {
		fmt.Fprintf(&b, "\nResponsible Staff: %s\n", *consent.ResponsibleStaff)
	}
	fmt.Fprintf(&b, "\nPlease review the details and respond via the parent portal:\n%s\n", s.consentFormURL(consent))
	fmt.Fprintf(&b, "\nThank you,\n%s\n", s.school.Name)
	return b.String()
}

func (s *ConsentService) consentRequestSMSBody(consent *models.ConsentRequest) string {
	return fmt.Sprintf("Consent required for %s. Please check your email or visit the parent portal. School: %s",
		consent.Title, s.school.Name)
}

func (s *ConsentService) consentFormURL(consent *models.ConsentRequest) string {
	return fmt.Sprintf("%s/parent/consents/%s", strings.TrimRight(s.school.PortalBaseURL, "/"), consent.ID)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
