package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-portal-api/internal/models"
	"github.com/noah-isme/sma-portal-api/pkg/config"
	appErrors "github.com/noah-isme/sma-portal-api/pkg/errors"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

func (c *fixedClock) Today() time.Time {
	return time.Date(c.now.Year(), c.now.Month(), c.now.Day(), 0, 0, 0, 0, time.UTC)
}

type mockConsentRepo struct {
	records       map[string]*models.ConsentRequest
	nextID        int
	failUpdateIDs map[string]bool
	updateCalls   int
}

func newMockConsentRepo() *mockConsentRepo {
	return &mockConsentRepo{records: make(map[string]*models.ConsentRequest)}
}

func (m *mockConsentRepo) Create(ctx context.Context, consent *models.ConsentRequest) error {
	m.nextID++
	consent.ID = fmt.Sprintf("consent-%d", m.nextID)
	clone := *consent
	m.records[consent.ID] = &clone
	return nil
}

func (m *mockConsentRepo) GetByID(ctx context.Context, id string) (*models.ConsentRequest, error) {
	record, ok := m.records[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *record
	return &clone, nil
}

func (m *mockConsentRepo) Update(ctx context.Context, consent *models.ConsentRequest) error {
	m.updateCalls++
	if m.failUpdateIDs[consent.ID] {
		return errors.New("update failed")
	}
	if _, ok := m.records[consent.ID]; !ok {
		return sql.ErrNoRows
	}
	clone := *consent
	m.records[consent.ID] = &clone
	return nil
}

func (m *mockConsentRepo) List(ctx context.Context, filter models.ConsentFilter) ([]models.ConsentRequest, int, error) {
	var out []models.ConsentRequest
	for _, record := range m.records {
		out = append(out, *record)
	}
	return out, len(out), nil
}

func (m *mockConsentRepo) ListByStudent(ctx context.Context, studentID, excludeID string, limit int) ([]models.ConsentRequest, error) {
	var out []models.ConsentRequest
	for _, record := range m.records {
		if record.StudentID == studentID && record.ID != excludeID {
			out = append(out, *record)
		}
	}
	return out, nil
}

func (m *mockConsentRepo) ListExpirable(ctx context.Context, now time.Time) ([]models.ConsentRequest, error) {
	var out []models.ConsentRequest
	for _, record := range m.records {
		if record.Status != models.ConsentStatusPending && record.Status != models.ConsentStatusApproved {
			continue
		}
		if record.ExpiryDate != nil && record.ExpiryDate.Before(now) {
			out = append(out, *record)
		}
	}
	return out, nil
}

func (m *mockConsentRepo) SummaryByStatus(ctx context.Context) (*models.ConsentSummary, error) {
	summary := &models.ConsentSummary{Total: len(m.records)}
	for _, record := range m.records {
		switch record.Status {
		case models.ConsentStatusPending:
			summary.Pending++
		case models.ConsentStatusApproved:
			summary.Approved++
		case models.ConsentStatusDeclined:
			summary.Declined++
		case models.ConsentStatusWithdrawn:
			summary.Withdrawn++
		case models.ConsentStatusExpired:
			summary.Expired++
		}
	}
	return summary, nil
}

type mockGuardianReader struct {
	guardian *models.Guardian
	student  *models.Student
	links    map[string][]string
}

func (m *mockGuardianReader) FindByID(ctx context.Context, id string) (*models.Guardian, error) {
	if m.guardian == nil {
		return nil, sql.ErrNoRows
	}
	return m.guardian, nil
}

func (m *mockGuardianReader) GuardiansOf(ctx context.Context, studentID string) ([]string, error) {
	return m.links[studentID], nil
}

func (m *mockGuardianReader) FindStudent(ctx context.Context, id string) (*models.Student, error) {
	if m.student == nil {
		return nil, sql.ErrNoRows
	}
	return m.student, nil
}

type mockDispatcher struct {
	sent []models.Notification
}

func (m *mockDispatcher) Dispatch(ctx context.Context, notifications ...models.Notification) {
	m.sent = append(m.sent, notifications...)
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func newConsentFixture(clock Clock) (*ConsentService, *mockConsentRepo, *mockGuardianReader, *mockDispatcher) {
	repo := newMockConsentRepo()
	email := "guardian@example.com"
	mobile := "+628111111111"
	guardians := &mockGuardianReader{
		guardian: &models.Guardian{ID: "g1", FullName: "Guardian One", EmailAddress: &email, MobileNumber: &mobile},
		student:  &models.Student{ID: "s1", FullName: "Student One"},
		links:    map[string][]string{"s1": {"g1"}},
	}
	dispatcher := &mockDispatcher{}
	cfg := config.ConsentConfig{ExpiryWindow: 7 * 24 * time.Hour, SummaryCacheTTL: time.Minute}
	school := config.SchoolConfig{Name: "Test School", EducationManager: "manager@example.com", PortalBaseURL: "http://portal.local"}
	svc := NewConsentService(repo, guardians, dispatcher, nil, nil, clock, validator.New(), zap.NewNop(), nil, cfg, school)
	return svc, repo, guardians, dispatcher
}

func createPendingConsent(t *testing.T, svc *ConsentService, clock *fixedClock) *models.ConsentRequest {
	t.Helper()
	activity := clock.Today().AddDate(0, 0, 9)
	consent, err := svc.Create(context.Background(), CreateConsentRequest{
		StudentID:    "s1",
		GuardianID:   "g1",
		Title:        "Museum Trip",
		ConsentType:  models.ConsentTypeFieldTrip,
		ActivityDate: &activity,
	})
	require.NoError(t, err)
	return consent
}

func TestConsentCreateDerivesExpiry(t *testing.T) {
	clock := &fixedClock{now: time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)}
	svc, _, _, _ := newConsentFixture(clock)

	activity := time.Date(2024, 9, 10, 0, 0, 0, 0, time.UTC)
	consent, err := svc.Create(context.Background(), CreateConsentRequest{
		StudentID:    "s1",
		GuardianID:   "g1",
		Title:        "Museum Trip",
		ConsentType:  models.ConsentTypeFieldTrip,
		ActivityDate: &activity,
	})
	require.NoError(t, err)
	require.NotNil(t, consent.ExpiryDate)
	assert.Equal(t, time.Date(2024, 9, 17, 0, 0, 0, 0, time.UTC), *consent.ExpiryDate)
	assert.Equal(t, models.ConsentStatusPending, consent.Status)
}

func TestConsentCreateRejectsActivityBeforeRequest(t *testing.T) {
	clock := &fixedClock{now: time.Date(2024, 9, 10, 10, 0, 0, 0, time.UTC)}
	svc, _, _, _ := newConsentFixture(clock)

	activity := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	_, err := svc.Create(context.Background(), CreateConsentRequest{
		StudentID:    "s1",
		GuardianID:   "g1",
		Title:        "Museum Trip",
		ConsentType:  models.ConsentTypeFieldTrip,
		ActivityDate: &activity,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestConsentCreateRejectsUnlinkedGuardian(t *testing.T) {
	clock := &fixedClock{now: time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)}
	svc, _, guardians, _ := newConsentFixture(clock)
	guardians.links = map[string][]string{"s1": {"other-guardian"}}

	_, err := svc.Create(context.Background(), CreateConsentRequest{
		StudentID:   "s1",
		GuardianID:  "g1",
		Title:       "Museum Trip",
		ConsentType: models.ConsentTypeFieldTrip,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestConsentApproveStampsConsentDateOnce(t *testing.T) {
	clock := &fixedClock{now: time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)}
	svc, repo, _, _ := newConsentFixture(clock)
	consent := createPendingConsent(t, svc, clock)

	approved, err := svc.Approve(context.Background(), consent.ID, ApproveConsentRequest{DigitalSignature: strPtr("sig")})
	require.NoError(t, err)
	assert.Equal(t, models.ConsentStatusApproved, approved.Status)
	assert.True(t, approved.ConsentGiven)
	require.NotNil(t, approved.ConsentDate)
	firstStamp := *approved.ConsentDate

	clock.now = clock.now.Add(time.Hour)
	withdrawn, err := svc.Withdraw(context.Background(), consent.ID, WithdrawConsentRequest{})
	require.NoError(t, err)
	require.NotNil(t, withdrawn.ConsentDate)
	assert.Equal(t, firstStamp, *withdrawn.ConsentDate, "consent date never overwritten")

	stored, err := repo.GetByID(context.Background(), consent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConsentStatusWithdrawn, stored.Status)
}

func TestConsentApproveTwiceRejected(t *testing.T) {
	clock := &fixedClock{now: time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)}
	svc, _, _, _ := newConsentFixture(clock)
	consent := createPendingConsent(t, svc, clock)

	_, err := svc.Approve(context.Background(), consent.ID, ApproveConsentRequest{})
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), consent.ID, ApproveConsentRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestConsentDeclineAppendsReason(t *testing.T) {
	clock := &fixedClock{now: time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)}
	svc, _, _, _ := newConsentFixture(clock)
	consent := createPendingConsent(t, svc, clock)

	declined, err := svc.Decline(context.Background(), consent.ID, DeclineConsentRequest{Reason: strPtr("schedule conflict")})
	require.NoError(t, err)
	assert.Equal(t, models.ConsentStatusDeclined, declined.Status)
	assert.False(t, declined.ConsentGiven)
	assert.Contains(t, declined.Description, "schedule conflict")
}

func TestConsentWithdrawRequiresApproved(t *testing.T) {
	clock := &fixedClock{now: time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)}
	svc, _, _, _ := newConsentFixture(clock)
	consent := createPendingConsent(t, svc, clock)

	_, err := svc.Withdraw(context.Background(), consent.ID, WithdrawConsentRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestConsentRequestSendsBothChannels(t *testing.T) {
	clock := &fixedClock{now: time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)}
	svc, _, _, dispatcher := newConsentFixture(clock)
	consent := createPendingConsent(t, svc, clock)

	_, err := svc.RequestConsent(context.Background(), consent.ID)
	require.NoError(t, err)
	require.Len(t, dispatcher.sent, 2)

	channels := map[models.NotificationChannel]models.Notification{}
	for _, n := range dispatcher.sent {
		channels[n.Channel] = n
	}
	email, ok := channels[models.ChannelEmail]
	require.True(t, ok)
	assert.Equal(t, "guardian@example.com", email.Recipient)
	assert.Contains(t, email.Body, "Museum Trip")
	assert.Contains(t, email.Body, "Student One")

	sms, ok := channels[models.ChannelSMS]
	require.True(t, ok)
	assert.Equal(t, "+628111111111", sms.Recipient)
}

func TestConsentRequestEmailOnlyWithoutMobile(t *testing.T) {
	clock := &fixedClock{now: time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)}
	svc, _, guardians, dispatcher := newConsentFixture(clock)
	guardians.guardian.MobileNumber = nil
	consent := createPendingConsent(t, svc, clock)

	_, err := svc.RequestConsent(context.Background(), consent.ID)
	require.NoError(t, err)
	require.Len(t, dispatcher.sent, 1)
	assert.Equal(t, models.ChannelEmail, dispatcher.sent[0].Channel)
}

func TestConsentRequestRejectsNonPending(t *testing.T) {
	clock := &fixedClock{now: time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)}
	svc, _, _, _ := newConsentFixture(clock)
	consent := createPendingConsent(t, svc, clock)

	_, err := svc.Approve(context.Background(), consent.ID, ApproveConsentRequest{})
	require.NoError(t, err)

	_, err = svc.RequestConsent(context.Background(), consent.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestConsentApproveNotifiesSchool(t *testing.T) {
	clock := &fixedClock{now: time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)}
	svc, _, _, dispatcher := newConsentFixture(clock)

	activity := clock.Today().AddDate(0, 0, 9)
	consent, err := svc.Create(context.Background(), CreateConsentRequest{
		StudentID:        "s1",
		GuardianID:       "g1",
		Title:            "Museum Trip",
		ConsentType:      models.ConsentTypeFieldTrip,
		ActivityDate:     &activity,
		ResponsibleStaff: strPtr("staff@example.com"),
	})
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), consent.ID, ApproveConsentRequest{})
	require.NoError(t, err)

	require.Len(t, dispatcher.sent, 2, "staff and education manager")
	recipients := []string{dispatcher.sent[0].Recipient, dispatcher.sent[1].Recipient}
	assert.Contains(t, recipients, "staff@example.com")
	assert.Contains(t, recipients, "manager@example.com")
	assert.True(t, strings.Contains(dispatcher.sent[0].Body, "approved"))
}

func TestExpirySweepExpiresPastDueOnly(t *testing.T) {
	clock := &fixedClock{now: time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)}
	svc, repo, _, dispatcher := newConsentFixture(clock)

	past := time.Date(2024, 8, 20, 0, 0, 0, 0, time.UTC)
	future := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)

	repo.records["pending-old"] = &models.ConsentRequest{
		ID: "pending-old", StudentID: "s1", GuardianID: "g1",
		Status: models.ConsentStatusPending, ExpiryDate: timePtr(past), RequestDate: past.AddDate(0, 0, -10),
	}
	repo.records["approved-old"] = &models.ConsentRequest{
		ID: "approved-old", StudentID: "s1", GuardianID: "g1",
		Status: models.ConsentStatusApproved, ExpiryDate: timePtr(past), RequestDate: past.AddDate(0, 0, -10),
	}
	repo.records["declined-old"] = &models.ConsentRequest{
		ID: "declined-old", StudentID: "s1", GuardianID: "g1",
		Status: models.ConsentStatusDeclined, ExpiryDate: timePtr(past), RequestDate: past.AddDate(0, 0, -10),
	}
	repo.records["pending-fresh"] = &models.ConsentRequest{
		ID: "pending-fresh", StudentID: "s1", GuardianID: "g1",
		Status: models.ConsentStatusPending, ExpiryDate: timePtr(future), RequestDate: clock.Today(),
	}

	result, err := svc.ExpirySweep(context.Background(), clock.now)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, 2, result.Expired)
	assert.Empty(t, result.Failed)

	assert.Equal(t, models.ConsentStatusExpired, repo.records["pending-old"].Status)
	assert.Equal(t, models.ConsentStatusExpired, repo.records["approved-old"].Status)
	assert.Equal(t, models.ConsentStatusDeclined, repo.records["declined-old"].Status, "declined never expired")
	assert.Equal(t, models.ConsentStatusPending, repo.records["pending-fresh"].Status)
	assert.Empty(t, dispatcher.sent, "sweep emits no notifications")
}

func TestExpirySweepUsesRunTime(t *testing.T) {
	// The wall clock lags behind the run time handed to the sweep. Expiry must
	// follow the run time, so selection and the status flip agree.
	clock := &fixedClock{now: time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)}
	svc, repo, _, _ := newConsentFixture(clock)

	expiry := time.Date(2024, 9, 3, 0, 0, 0, 0, time.UTC)
	repo.records["c1"] = &models.ConsentRequest{
		ID: "c1", StudentID: "s1", GuardianID: "g1",
		Status: models.ConsentStatusPending, ExpiryDate: timePtr(expiry), RequestDate: clock.Today(),
	}

	runAt := time.Date(2024, 9, 5, 2, 0, 0, 0, time.UTC)
	result, err := svc.ExpirySweep(context.Background(), runAt)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scanned)
	assert.Equal(t, 1, result.Expired)
	assert.Equal(t, models.ConsentStatusExpired, repo.records["c1"].Status)
}

func TestExpirySweepIsIdempotent(t *testing.T) {
	clock := &fixedClock{now: time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)}
	svc, repo, _, _ := newConsentFixture(clock)

	past := time.Date(2024, 8, 20, 0, 0, 0, 0, time.UTC)
	repo.records["c1"] = &models.ConsentRequest{
		ID: "c1", StudentID: "s1", GuardianID: "g1",
		Status: models.ConsentStatusPending, ExpiryDate: timePtr(past), RequestDate: past.AddDate(0, 0, -10),
	}

	first, err := svc.ExpirySweep(context.Background(), clock.now)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Expired)

	second, err := svc.ExpirySweep(context.Background(), clock.now)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Scanned)
	assert.Equal(t, 0, second.Expired)
	assert.Equal(t, models.ConsentStatusExpired, repo.records["c1"].Status)
}

func TestExpirySweepContinuesPastFailures(t *testing.T) {
	clock := &fixedClock{now: time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)}
	svc, repo, _, _ := newConsentFixture(clock)

	past := time.Date(2024, 8, 20, 0, 0, 0, 0, time.UTC)
	repo.records["bad"] = &models.ConsentRequest{
		ID: "bad", StudentID: "s1", GuardianID: "g1",
		Status: models.ConsentStatusPending, ExpiryDate: timePtr(past), RequestDate: past.AddDate(0, 0, -10),
	}
	repo.records["good"] = &models.ConsentRequest{
		ID: "good", StudentID: "s1", GuardianID: "g1",
		Status: models.ConsentStatusPending, ExpiryDate: timePtr(past), RequestDate: past.AddDate(0, 0, -10),
	}
	repo.failUpdateIDs = map[string]bool{"bad": true}

	result, err := svc.ExpirySweep(context.Background(), clock.now)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, 1, result.Expired)
	assert.Equal(t, []string{"bad"}, result.Failed)
	assert.Equal(t, models.ConsentStatusExpired, repo.records["good"].Status)
}

func TestConsentGetNotFound(t *testing.T) {
	clock := &fixedClock{now: time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)}
	svc, _, _, _ := newConsentFixture(clock)

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestConsentExportCSV(t *testing.T) {
	clock := &fixedClock{now: time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)}
	svc, _, _, _ := newConsentFixture(clock)
	createPendingConsent(t, svc, clock)

	data, filename, err := svc.ExportCSV(context.Background(), models.ConsentFilter{})
	require.NoError(t, err)
	assert.Equal(t, "consents_20240901.csv", filename)
	assert.Contains(t, string(data), "Museum Trip")
	assert.Contains(t, string(data), "PENDING")
}
