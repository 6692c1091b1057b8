package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-portal-api/internal/models"
	"github.com/noah-isme/sma-portal-api/pkg/config"
	appErrors "github.com/noah-isme/sma-portal-api/pkg/errors"
	"github.com/noah-isme/sma-portal-api/pkg/export"
)

const consentSummaryCacheKey = "consents:summary"

type consentRepo interface {
	Create(ctx context.Context, consent *models.ConsentRequest) error
	GetByID(ctx context.Context, id string) (*models.ConsentRequest, error)
	Update(ctx context.Context, consent *models.ConsentRequest) error
	List(ctx context.Context, filter models.ConsentFilter) ([]models.ConsentRequest, int, error)
	ListByStudent(ctx context.Context, studentID, excludeID string, limit int) ([]models.ConsentRequest, error)
	ListExpirable(ctx context.Context, now time.Time) ([]models.ConsentRequest, error)
	SummaryByStatus(ctx context.Context) (*models.ConsentSummary, error)
}

type guardianReader interface {
	FindByID(ctx context.Context, id string) (*models.Guardian, error)
	GuardiansOf(ctx context.Context, studentID string) ([]string, error)
	FindStudent(ctx context.Context, id string) (*models.Student, error)
}

// NotificationDispatcher receives outbound notifications after a transition
// has been persisted. Delivery is fire-and-forget: implementations never
// report failure back to the workflow.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, notifications ...models.Notification)
}

// CreateConsentRequest is the payload for opening a consent request.
type CreateConsentRequest struct {
	StudentID        string             `json:"student_id" validate:"required"`
	GuardianID       string             `json:"guardian_id" validate:"required"`
	Title            string             `json:"title" validate:"required"`
	ConsentType      models.ConsentType `json:"consent_type" validate:"required"`
	ActivityDate     *time.Time         `json:"activity_date"`
	ActivityLocation *string            `json:"activity_location"`
	RequestDate      *time.Time         `json:"request_date"`
	ExpiryDate       *time.Time         `json:"expiry_date"`
	Description      string             `json:"description"`
	ResponsibleStaff *string            `json:"responsible_staff"`
}

// ApproveConsentRequest carries the optional digital signature.
type ApproveConsentRequest struct {
	DigitalSignature *string `json:"digital_signature"`
}

// DeclineConsentRequest carries the optional decline reason.
type DeclineConsentRequest struct {
	Reason *string `json:"reason"`
}

// WithdrawConsentRequest carries the optional withdrawal reason.
type WithdrawConsentRequest struct {
	Reason *string `json:"reason"`
}

// ConsentService drives the parental consent workflow: structural validation
// on every save, guarded status transitions, expiry derivation and outbound
// notifications.
type ConsentService struct {
	repo       consentRepo
	guardians  guardianReader
	dispatcher NotificationDispatcher
	cache      *CacheService
	exporter   *export.PDFExporter
	csv        *export.CSVExporter
	clock      Clock
	validator  *validator.Validate
	logger     *zap.Logger
	metrics    *MetricsService
	cfg        config.ConsentConfig
	school     config.SchoolConfig
}

// NewConsentService constructs ConsentService.
func NewConsentService(repo consentRepo, guardians guardianReader, dispatcher NotificationDispatcher,
	cache *CacheService, exporter *export.PDFExporter, clock Clock, validate *validator.Validate,
	logger *zap.Logger, metrics *MetricsService, cfg config.ConsentConfig, school config.SchoolConfig) *ConsentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = SystemClock()
	}
	if cfg.ExpiryWindow <= 0 {
		cfg.ExpiryWindow = 7 * 24 * time.Hour
	}
	return &ConsentService{
		repo:       repo,
		guardians:  guardians,
		dispatcher: dispatcher,
		cache:      cache,
		exporter:   exporter,
		csv:        export.NewCSVExporter(),
		clock:      clock,
		validator:  validate,
		logger:     logger,
		metrics:    metrics,
		cfg:        cfg,
		school:     school,
	}
}

// Validate enforces the structural invariants of a consent request and fills
// defaults. It runs before every persist.
func (s *ConsentService) Validate(ctx context.Context, consent *models.ConsentRequest) error {
	if consent.ActivityDate != nil && !consent.RequestDate.IsZero() {
		if truncateToDay(*consent.ActivityDate).Before(truncateToDay(consent.RequestDate)) {
			return appErrors.Clone(appErrors.ErrValidation, "activity date cannot be before request date")
		}
	}
	if consent.ExpiryDate != nil && !consent.RequestDate.IsZero() {
		if !consent.ExpiryDate.After(consent.RequestDate) {
			return appErrors.Clone(appErrors.ErrValidation, "expiry date must be after request date")
		}
	}

	if consent.StudentID != "" && consent.GuardianID != "" {
		linked, err := s.guardians.GuardiansOf(ctx, consent.StudentID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check guardian relation")
		}
		found := false
		for _, id := range linked {
			if id == consent.GuardianID {
				found = true
				break
			}
		}
		if !found {
			return appErrors.Clone(appErrors.ErrValidation, "selected guardian is not associated with this student")
		}
	}

	if consent.Status == "" {
		consent.Status = models.ConsentStatusPending
	}
	if consent.ExpiryDate == nil && consent.ActivityDate != nil {
		expiry := consent.ActivityDate.Add(s.cfg.ExpiryWindow)
		consent.ExpiryDate = &expiry
	}
	return nil
}

// OnPersisted applies post-save derivations: first-time consent stamping and
// the expiry check. When a derivation changes the record it is persisted again.
func (s *ConsentService) OnPersisted(ctx context.Context, consent *models.ConsentRequest) error {
	changed := false
	if consent.ConsentGiven && consent.ConsentDate == nil {
		now := s.clock.Now()
		consent.ConsentDate = &now
		consent.Status = models.ConsentStatusApproved
		changed = true
	}
	if s.applyExpiry(consent, s.clock.Today()) {
		changed = true
	}
	if !changed {
		return nil
	}
	if err := s.repo.Update(ctx, consent); err != nil {
		return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to persist derived consent fields")
	}
	s.invalidateSummary(ctx)
	return nil
}

// applyExpiry flips a record past its expiry date to Expired. Declined and
// Withdrawn records keep their status for audit even past expiry.
func (s *ConsentService) applyExpiry(consent *models.ConsentRequest, today time.Time) bool {
	if consent.ExpiryDate == nil {
		return false
	}
	if !truncateToDay(today).After(truncateToDay(*consent.ExpiryDate)) {
		return false
	}
	switch consent.Status {
	case models.ConsentStatusExpired, models.ConsentStatusDeclined, models.ConsentStatusWithdrawn:
		return false
	}
	consent.Status = models.ConsentStatusExpired
	return true
}

// Create opens a new consent request in Pending status.
func (s *ConsentService) Create(ctx context.Context, req CreateConsentRequest) (*models.ConsentRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid consent payload")
	}

	requestDate := s.clock.Today()
	if req.RequestDate != nil {
		requestDate = *req.RequestDate
	}
	consent := &models.ConsentRequest{
		StudentID:        req.StudentID,
		GuardianID:       req.GuardianID,
		Title:            req.Title,
		ConsentType:      req.ConsentType,
		ActivityDate:     req.ActivityDate,
		ActivityLocation: req.ActivityLocation,
		RequestDate:      requestDate,
		ExpiryDate:       req.ExpiryDate,
		Description:      req.Description,
		ResponsibleStaff: req.ResponsibleStaff,
	}

	if err := s.Validate(ctx, consent); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, consent); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to create consent request")
	}
	if err := s.OnPersisted(ctx, consent); err != nil {
		return nil, err
	}
	s.invalidateSummary(ctx)
	return consent, nil
}

// Get returns one consent request.
func (s *ConsentService) Get(ctx context.Context, id string) (*models.ConsentRequest, error) {
	consent, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "consent request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load consent request")
	}
	return consent, nil
}

// List returns consent requests matching the filter.
func (s *ConsentService) List(ctx context.Context, filter models.ConsentFilter) ([]models.ConsentRequest, int, error) {
	consents, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list consent requests")
	}
	return consents, total, nil
}

// Related returns other consent requests for the same student.
func (s *ConsentService) Related(ctx context.Context, id string) ([]models.ConsentRequest, error) {
	consent, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	related, err := s.repo.ListByStudent(ctx, consent.StudentID, consent.ID, 10)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list related consents")
	}
	return related, nil
}

// RequestConsent sends the consent request to the guardian. Email when the
// guardian has an email address, SMS when they have a mobile number. The
// record itself is not mutated.
func (s *ConsentService) RequestConsent(ctx context.Context, id string) (*models.ConsentRequest, error) {
	consent, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if consent.Status != models.ConsentStatusPending {
		s.observeTransition("request", false)
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "only pending consent requests can be sent")
	}

	guardian, err := s.guardians.FindByID(ctx, consent.GuardianID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load guardian")
	}
	student, err := s.guardians.FindStudent(ctx, consent.StudentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	var notifications []models.Notification
	if guardian.EmailAddress != nil && *guardian.EmailAddress != "" {
		notifications = append(notifications, models.Notification{
			Channel:   models.ChannelEmail,
			Recipient: *guardian.EmailAddress,
			Subject:   fmt.Sprintf("Consent Request: %s", consent.Title),
			Body:      s.consentRequestEmailBody(consent, student),
			Reference: consent.ID,
		})
	}
	if guardian.MobileNumber != nil && *guardian.MobileNumber != "" {
		notifications = append(notifications, models.Notification{
			Channel:   models.ChannelSMS,
			Recipient: *guardian.MobileNumber,
			Subject:   "",
			Body:      s.consentRequestSMSBody(consent),
			Reference: consent.ID,
		})
	}
	s.dispatch(ctx, notifications...)
	s.observeTransition("request", true)
	return consent, nil
}

// Approve records the guardian's consent.
func (s *ConsentService) Approve(ctx context.Context, id string, req ApproveConsentRequest) (*models.ConsentRequest, error) {
	consent, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !consent.Status.CanTransition(models.ConsentStatusApproved) {
		s.observeTransition("approve", false)
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "only pending consent requests can be approved")
	}

	now := s.clock.Now()
	consent.ConsentGiven = true
	if consent.ConsentDate == nil {
		consent.ConsentDate = &now
	}
	consent.Status = models.ConsentStatusApproved
	if req.DigitalSignature != nil {
		consent.DigitalSignature = req.DigitalSignature
	}

	if err := s.persist(ctx, consent); err != nil {
		return nil, err
	}
	s.notifySchool(ctx, consent, "approved", nil)
	s.observeTransition("approve", true)
	return consent, nil
}

// Decline records the guardian's refusal.
func (s *ConsentService) Decline(ctx context.Context, id string, req DeclineConsentRequest) (*models.ConsentRequest, error) {
	consent, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !consent.Status.CanTransition(models.ConsentStatusDeclined) {
		s.observeTransition("decline", false)
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "only pending consent requests can be declined")
	}

	consent.ConsentGiven = false
	consent.Status = models.ConsentStatusDeclined
	if req.Reason != nil && *req.Reason != "" {
		consent.Description = appendReason(consent.Description, "Declined Reason", *req.Reason)
	}

	if err := s.persist(ctx, consent); err != nil {
		return nil, err
	}
	s.notifySchool(ctx, consent, "declined", req.Reason)
	s.observeTransition("decline", true)
	return consent, nil
}

// Withdraw revokes previously given consent.
func (s *ConsentService) Withdraw(ctx context.Context, id string, req WithdrawConsentRequest) (*models.ConsentRequest, error) {
	consent, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !consent.Status.CanTransition(models.ConsentStatusWithdrawn) {
		s.observeTransition("withdraw", false)
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "only approved consent can be withdrawn")
	}

	consent.ConsentGiven = false
	consent.Status = models.ConsentStatusWithdrawn
	if req.Reason != nil && *req.Reason != "" {
		consent.Description = appendReason(consent.Description, "Withdrawal Reason", *req.Reason)
	}

	if err := s.persist(ctx, consent); err != nil {
		return nil, err
	}
	s.notifySchool(ctx, consent, "withdrawn", req.Reason)
	s.observeTransition("withdraw", true)
	return consent, nil
}

// ExpirySweep expires every non-terminal record past its expiry date. Each
// record is updated independently: one failed persist is reported in the
// result and does not abort the rest. Running the sweep twice in a row leaves
// the same final state set. No notifications are emitted.
func (s *ConsentService) ExpirySweep(ctx context.Context, now time.Time) (*models.SweepResult, error) {
	result := &models.SweepResult{RunAt: now}
	expirable, err := s.repo.ListExpirable(ctx, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list expirable consents")
	}
	result.Scanned = len(expirable)

	for i := range expirable {
		consent := expirable[i]
		if !s.applyExpiry(&consent, now) {
			continue
		}
		if err := s.repo.Update(ctx, &consent); err != nil {
			s.logger.Sugar().Warnw("expiry sweep: failed to persist record, continuing",
				"consent_id", consent.ID, "error", err)
			result.Failed = append(result.Failed, consent.ID)
			continue
		}
		result.Expired++
	}

	if s.metrics != nil {
		s.metrics.ObserveSweep(result.Scanned, result.Expired)
	}
	if result.Expired > 0 {
		s.invalidateSummary(ctx)
	}
	return result, nil
}

// StartExpirySweep boots a goroutine that runs the sweep on the configured
// interval until the context is cancelled.
func (s *ConsentService) StartExpirySweep(ctx context.Context) {
	if s.cfg.SweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.SweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				result, err := s.ExpirySweep(ctx, s.clock.Now())
				if err != nil {
					s.logger.Sugar().Warnw("consent expiry sweep failed", "error", err)
					continue
				}
				s.logger.Sugar().Infow("consent expiry sweep finished",
					"scanned", result.Scanned, "expired", result.Expired, "failed", len(result.Failed))
			}
		}
	}()
}

// Summary returns consent counts by status, cached for dashboards.
func (s *ConsentService) Summary(ctx context.Context) (*models.ConsentSummary, error) {
	var cached models.ConsentSummary
	if hit, _ := s.cache.Get(ctx, consentSummaryCacheKey, &cached); hit {
		return &cached, nil
	}
	summary, err := s.repo.SummaryByStatus(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate consent summary")
	}
	if err := s.cache.Set(ctx, consentSummaryCacheKey, summary, s.cfg.SummaryCacheTTL); err != nil {
		s.logger.Sugar().Warnw("failed to cache consent summary", "error", err)
	}
	return summary, nil
}

// Report renders a printable status report for one consent request.
func (s *ConsentService) Report(ctx context.Context, id string) ([]byte, string, error) {
	consent, err := s.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	student, err := s.guardians.FindStudent(ctx, consent.StudentID)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	guardian, err := s.guardians.FindByID(ctx, consent.GuardianID)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load guardian")
	}

	fields := []export.DocumentField{
		{Label: "Consent ID", Value: consent.ID},
		{Label: "Student", Value: student.FullName},
		{Label: "Guardian", Value: guardian.FullName},
		{Label: "Activity", Value: consent.Title},
		{Label: "Type", Value: string(consent.ConsentType)},
		{Label: "Request Date", Value: consent.RequestDate.Format("2006-01-02")},
		{Label: "Activity Date", Value: formatDate(consent.ActivityDate)},
		{Label: "Expiry Date", Value: formatDate(consent.ExpiryDate)},
		{Label: "Status", Value: string(consent.Status)},
		{Label: "Consent Given", Value: formatBool(consent.ConsentGiven)},
		{Label: "Consent Date", Value: formatDate(consent.ConsentDate)},
	}
	if consent.ResponsibleStaff != nil {
		fields = append(fields, export.DocumentField{Label: "Responsible Staff", Value: *consent.ResponsibleStaff})
	}

	pdf, err := s.exporter.RenderDocument("Consent Status Report", fields, consent.Description)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render consent report")
	}
	return pdf, fmt.Sprintf("consent_%s.pdf", consent.ID), nil
}

// ExportCSV renders the filtered consent list as a CSV document.
func (s *ConsentService) ExportCSV(ctx context.Context, filter models.ConsentFilter) ([]byte, string, error) {
	consents, _, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list consent requests")
	}

	dataset := export.Dataset{
		Headers: []string{"ID", "Student", "Guardian", "Title", "Type", "Status", "Request Date", "Activity Date", "Expiry Date", "Consent Given", "Consent Date"},
	}
	for i := range consents {
		consent := &consents[i]
		dataset.Rows = append(dataset.Rows, map[string]string{
			"ID":            consent.ID,
			"Student":       consent.StudentID,
			"Guardian":      consent.GuardianID,
			"Title":         consent.Title,
			"Type":          string(consent.ConsentType),
			"Status":        string(consent.Status),
			"Request Date":  consent.RequestDate.Format("2006-01-02"),
			"Activity Date": formatDate(consent.ActivityDate),
			"Expiry Date":   formatDate(consent.ExpiryDate),
			"Consent Given": formatBool(consent.ConsentGiven),
			"Consent Date":  formatDate(consent.ConsentDate),
		})
	}

	data, err := s.csv.Render(dataset)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render consent export")
	}
	filename := fmt.Sprintf("consents_%s.csv", s.clock.Today().Format("20060102"))
	return data, filename, nil
}

func (s *ConsentService) persist(ctx context.Context, consent *models.ConsentRequest) error {
	if err := s.Validate(ctx, consent); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, consent); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "consent request not found")
		}
		return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to persist consent request")
	}
	if err := s.OnPersisted(ctx, consent); err != nil {
		return err
	}
	s.invalidateSummary(ctx)
	return nil
}

func (s *ConsentService) dispatch(ctx context.Context, notifications ...models.Notification) {
	if s.dispatcher == nil || len(notifications) == 0 {
		return
	}
	s.dispatcher.Dispatch(ctx, notifications...)
}

func (s *ConsentService) invalidateSummary(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, consentSummaryCacheKey); err != nil {
		s.logger.Sugar().Warnw("failed to invalidate consent summary cache", "error", err)
	}
}

func (s *ConsentService) observeTransition(action string, ok bool) {
	if s.metrics != nil {
		s.metrics.ObserveConsentTransition(action, ok)
	}
}

func appendReason(description, label, reason string) string {
	if description == "" {
		return fmt.Sprintf("%s: %s", label, reason)
	}
	return fmt.Sprintf("%s\n\n%s: %s", description, label, reason)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "TBD"
	}
	return t.Format("2006-01-02")
}

func formatBool(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
