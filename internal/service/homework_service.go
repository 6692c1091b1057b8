package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-portal-api/internal/models"
	"github.com/noah-isme/sma-portal-api/pkg/config"
	appErrors "github.com/noah-isme/sma-portal-api/pkg/errors"
	"github.com/noah-isme/sma-portal-api/pkg/storage"
)

type submissionRepo interface {
	Create(ctx context.Context, submission *models.HomeworkSubmission) error
	GetByID(ctx context.Context, id string) (*models.HomeworkSubmission, error)
	Update(ctx context.Context, submission *models.HomeworkSubmission) error
	List(ctx context.Context, filter models.SubmissionFilter) ([]models.HomeworkSubmission, int, error)
	History(ctx context.Context, assignmentID, studentID string) ([]models.HomeworkSubmission, error)
	CountByStatuses(ctx context.Context, assignmentID string, statuses []models.SubmissionStatus) (int, error)
	AverageGraded(ctx context.Context, assignmentID string) (float64, error)
}

type assignmentStore interface {
	GetByID(ctx context.Context, id string) (*models.Assignment, error)
	UpdateStats(ctx context.Context, stats models.AssignmentStats) error
}

type studentReader interface {
	FindStudent(ctx context.Context, id string) (*models.Student, error)
}

type portalUserReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// CreateSubmissionRequest is the payload for opening a homework submission.
type CreateSubmissionRequest struct {
	AssignmentID   string     `json:"assignment_id" validate:"required"`
	StudentID      string     `json:"student_id" validate:"required"`
	SubmissionText string     `json:"submission_text"`
	Attachments    []string   `json:"attachments"`
	SubmissionDate *time.Time `json:"submission_date"`
	Draft          bool       `json:"draft"`
}

// GradeSubmissionRequest carries a grade and optional feedback.
type GradeSubmissionRequest struct {
	Grade    float64 `json:"grade" validate:"min=0"`
	Feedback *string `json:"feedback"`
}

// ReturnSubmissionRequest carries the revision feedback.
type ReturnSubmissionRequest struct {
	Feedback string `json:"feedback" validate:"required"`
}

// ResubmitSubmissionRequest carries the reworked artifact.
type ResubmitSubmissionRequest struct {
	SubmissionText string   `json:"submission_text"`
	Attachments    []string `json:"attachments"`
}

// ExtensionRequest grants a student a later due date.
type ExtensionRequest struct {
	ExtensionDate time.Time `json:"extension_date" validate:"required"`
	LateReason    *string   `json:"late_reason"`
}

// HomeworkService drives the homework submission workflow: grade and lateness
// derivations on every save, guarded status transitions and assignment
// statistics kept current as submissions move through grading.
type HomeworkService struct {
	repo        submissionRepo
	assignments assignmentStore
	students    studentReader
	users       portalUserReader
	dispatcher  NotificationDispatcher
	cache       *CacheService
	clock       Clock
	validator   *validator.Validate
	logger      *zap.Logger
	metrics     *MetricsService
	cfg         config.HomeworkConfig
	school      config.SchoolConfig
	files       *storage.LocalStorage
	signer      *storage.SignedURLSigner
}

// NewHomeworkService constructs HomeworkService.
func NewHomeworkService(repo submissionRepo, assignments assignmentStore, students studentReader,
	users portalUserReader, dispatcher NotificationDispatcher, cache *CacheService, clock Clock,
	validate *validator.Validate, logger *zap.Logger, metrics *MetricsService,
	cfg config.HomeworkConfig, school config.SchoolConfig) *HomeworkService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &HomeworkService{
		repo:        repo,
		assignments: assignments,
		students:    students,
		users:       users,
		dispatcher:  dispatcher,
		cache:       cache,
		clock:       clock,
		validator:   validate,
		logger:      logger,
		metrics:     metrics,
		cfg:         cfg,
		school:      school,
	}
}

// Validate enforces grade invariants and recomputes the derived fields of a
// submission against its assignment. It runs before every persist.
func (s *HomeworkService) Validate(submission *models.HomeworkSubmission, assignment *models.Assignment) error {
	if submission.MaxGrade == nil && assignment.MaxGrade > 0 {
		maxGrade := assignment.MaxGrade
		submission.MaxGrade = &maxGrade
	}

	if submission.Grade != nil {
		if *submission.Grade < 0 {
			return appErrors.Clone(appErrors.ErrValidation, "grade cannot be negative")
		}
		if submission.MaxGrade != nil && *submission.Grade > *submission.MaxGrade {
			return appErrors.Clone(appErrors.ErrValidation,
				fmt.Sprintf("grade cannot exceed the maximum grade of %.2f", *submission.MaxGrade))
		}
	}

	if submission.Grade != nil && submission.MaxGrade != nil && *submission.MaxGrade > 0 {
		percentage := *submission.Grade / *submission.MaxGrade * 100
		submission.Percentage = &percentage
	} else {
		submission.Percentage = nil
	}

	if submission.SubmissionDate != nil {
		due := submission.EffectiveDueDate(assignment.DueDate)
		submission.IsLate = truncateToDay(*submission.SubmissionDate).After(truncateToDay(due))
	} else {
		submission.IsLate = false
	}
	return nil
}

// Create opens a new submission, either as a draft or directly submitted.
func (s *HomeworkService) Create(ctx context.Context, req CreateSubmissionRequest) (*models.HomeworkSubmission, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid submission payload")
	}

	assignment, err := s.getAssignment(ctx, req.AssignmentID)
	if err != nil {
		return nil, err
	}

	submission := &models.HomeworkSubmission{
		AssignmentID:   req.AssignmentID,
		StudentID:      req.StudentID,
		SubmissionText: req.SubmissionText,
		Attachments:    req.Attachments,
		SubmissionDate: req.SubmissionDate,
		Status:         models.SubmissionStatusDraft,
	}

	if !req.Draft {
		if err := s.requireContent(submission); err != nil {
			return nil, err
		}
		s.stampSubmission(submission)
		submission.Status = models.SubmissionStatusSubmitted
	}

	if err := s.Validate(submission, assignment); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, submission); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to create submission")
	}

	if submission.Status == models.SubmissionStatusSubmitted {
		s.notifyTeacher(ctx, submission, assignment)
		s.refreshAssignmentStats(ctx, assignment.ID)
	}
	s.observeTransition("create", true)
	return submission, nil
}

// Get returns one submission.
func (s *HomeworkService) Get(ctx context.Context, id string) (*models.HomeworkSubmission, error) {
	submission, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "submission not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load submission")
	}
	return submission, nil
}

// List returns submissions matching the filter.
func (s *HomeworkService) List(ctx context.Context, filter models.SubmissionFilter) ([]models.HomeworkSubmission, int, error) {
	submissions, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list submissions")
	}
	return submissions, total, nil
}

// History returns every submission of one student for an assignment, most
// recent first.
func (s *HomeworkService) History(ctx context.Context, assignmentID, studentID string) ([]models.HomeworkSubmission, error) {
	history, err := s.repo.History(ctx, assignmentID, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load submission history")
	}
	return history, nil
}

// Submit turns a draft into a submitted artifact.
func (s *HomeworkService) Submit(ctx context.Context, id string) (*models.HomeworkSubmission, error) {
	submission, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !submission.Status.CanTransition(models.SubmissionStatusSubmitted) {
		s.observeTransition("submit", false)
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "only draft submissions can be submitted")
	}
	if err := s.requireContent(submission); err != nil {
		return nil, err
	}

	s.stampSubmission(submission)
	submission.Status = models.SubmissionStatusSubmitted

	assignment, err := s.persist(ctx, submission)
	if err != nil {
		return nil, err
	}
	s.notifyTeacher(ctx, submission, assignment)
	s.refreshAssignmentStats(ctx, submission.AssignmentID)
	s.observeTransition("submit", true)
	return submission, nil
}

// Grade records a grade and feedback on a submitted or resubmitted artifact.
func (s *HomeworkService) Grade(ctx context.Context, id, gradedBy string, req GradeSubmissionRequest) (*models.HomeworkSubmission, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grading payload")
	}

	submission, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !submission.Status.CanTransition(models.SubmissionStatusGraded) {
		s.observeTransition("grade", false)
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "only submitted or resubmitted homework can be graded")
	}

	now := s.clock.Now()
	grade := req.Grade
	submission.Grade = &grade
	submission.Feedback = req.Feedback
	submission.GradedBy = &gradedBy
	submission.GradedDate = &now
	submission.Status = models.SubmissionStatusGraded

	if _, err := s.persist(ctx, submission); err != nil {
		return nil, err
	}
	s.notifyStudent(ctx, submission, "graded")
	s.refreshAssignmentStats(ctx, submission.AssignmentID)
	s.observeTransition("grade", true)
	return submission, nil
}

// AmendGrade corrects the grade or feedback on an already graded submission.
// It is a direct edit: the grade invariants rerun but no transition happens
// and the student is not notified again.
func (s *HomeworkService) AmendGrade(ctx context.Context, id, gradedBy string, req GradeSubmissionRequest) (*models.HomeworkSubmission, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grading payload")
	}

	submission, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if submission.Status != models.SubmissionStatusGraded {
		s.observeTransition("amend_grade", false)
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "only graded homework can be amended")
	}

	now := s.clock.Now()
	grade := req.Grade
	submission.Grade = &grade
	if req.Feedback != nil {
		submission.Feedback = req.Feedback
	}
	submission.GradedBy = &gradedBy
	submission.GradedDate = &now

	if _, err := s.persist(ctx, submission); err != nil {
		return nil, err
	}
	s.refreshAssignmentStats(ctx, submission.AssignmentID)
	s.observeTransition("amend_grade", true)
	return submission, nil
}

// ReturnForRevision sends a submission back to the student with feedback.
func (s *HomeworkService) ReturnForRevision(ctx context.Context, id string, req ReturnSubmissionRequest) (*models.HomeworkSubmission, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid return payload")
	}

	submission, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !submission.Status.CanTransition(models.SubmissionStatusReturned) {
		s.observeTransition("return", false)
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "only submitted or resubmitted homework can be returned")
	}

	feedback := req.Feedback
	submission.Feedback = &feedback
	submission.Status = models.SubmissionStatusReturned

	if _, err := s.persist(ctx, submission); err != nil {
		return nil, err
	}
	s.notifyStudent(ctx, submission, "returned")
	s.refreshAssignmentStats(ctx, submission.AssignmentID)
	s.observeTransition("return", true)
	return submission, nil
}

// Resubmit records a reworked artifact after a return.
func (s *HomeworkService) Resubmit(ctx context.Context, id string, req ResubmitSubmissionRequest) (*models.HomeworkSubmission, error) {
	submission, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !submission.Status.CanTransition(models.SubmissionStatusResubmitted) {
		s.observeTransition("resubmit", false)
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "only returned homework can be resubmitted")
	}

	if req.SubmissionText != "" {
		submission.SubmissionText = req.SubmissionText
	}
	if len(req.Attachments) > 0 {
		submission.Attachments = req.Attachments
	}
	if err := s.requireContent(submission); err != nil {
		return nil, err
	}

	s.stampSubmission(submission)
	submission.Status = models.SubmissionStatusResubmitted

	assignment, err := s.persist(ctx, submission)
	if err != nil {
		return nil, err
	}
	s.notifyTeacher(ctx, submission, assignment)
	s.observeTransition("resubmit", true)
	return submission, nil
}

// GrantExtension records a later due date for one submission. Lateness is
// recomputed against the new date and the student is always notified.
func (s *HomeworkService) GrantExtension(ctx context.Context, id string, req ExtensionRequest) (*models.HomeworkSubmission, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid extension payload")
	}

	submission, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	extensionDate := req.ExtensionDate
	submission.ExtensionGranted = true
	submission.ExtensionDate = &extensionDate
	if req.LateReason != nil {
		submission.LateReason = req.LateReason
	}

	if _, err := s.persist(ctx, submission); err != nil {
		return nil, err
	}
	s.notifyStudent(ctx, submission, "extension")
	s.observeTransition("extension", true)
	return submission, nil
}

// Stats returns assignment-level aggregates, recomputing and caching them.
func (s *HomeworkService) Stats(ctx context.Context, assignmentID string) (*models.AssignmentStats, error) {
	cacheKey := statsCacheKey(assignmentID)
	var cached models.AssignmentStats
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
		return &cached, nil
	}

	stats, err := s.computeStats(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, cacheKey, stats, s.cfg.StatsCacheTTL); err != nil {
		s.logger.Sugar().Warnw("failed to cache assignment stats", "error", err)
	}
	return stats, nil
}

func (s *HomeworkService) computeStats(ctx context.Context, assignmentID string) (*models.AssignmentStats, error) {
	total, err := s.repo.CountByStatuses(ctx, assignmentID, models.CountedStatuses)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count submissions")
	}
	graded, err := s.repo.CountByStatuses(ctx, assignmentID, []models.SubmissionStatus{models.SubmissionStatusGraded})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count graded submissions")
	}
	average, err := s.repo.AverageGraded(ctx, assignmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to average grades")
	}
	return &models.AssignmentStats{
		AssignmentID:      assignmentID,
		TotalSubmissions:  total,
		GradedSubmissions: graded,
		AverageGrade:      average,
		ComputedAt:        s.clock.Now(),
	}, nil
}

// refreshAssignmentStats recomputes and persists assignment aggregates after a
// workflow transition. Failures are logged, not surfaced: the transition is
// already committed.
func (s *HomeworkService) refreshAssignmentStats(ctx context.Context, assignmentID string) {
	stats, err := s.computeStats(ctx, assignmentID)
	if err != nil {
		s.logger.Sugar().Warnw("failed to recompute assignment stats", "assignment_id", assignmentID, "error", err)
		return
	}
	if err := s.assignments.UpdateStats(ctx, *stats); err != nil {
		s.logger.Sugar().Warnw("failed to persist assignment stats", "assignment_id", assignmentID, "error", err)
	}
	if err := s.cache.Invalidate(ctx, statsCacheKey(assignmentID)); err != nil {
		s.logger.Sugar().Warnw("failed to invalidate assignment stats cache", "assignment_id", assignmentID, "error", err)
	}
}

func (s *HomeworkService) persist(ctx context.Context, submission *models.HomeworkSubmission) (*models.Assignment, error) {
	assignment, err := s.getAssignment(ctx, submission.AssignmentID)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(submission, assignment); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, submission); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "submission not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to persist submission")
	}
	return assignment, nil
}

func (s *HomeworkService) getAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	assignment, err := s.assignments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	return assignment, nil
}

func (s *HomeworkService) requireContent(submission *models.HomeworkSubmission) error {
	if strings.TrimSpace(submission.SubmissionText) == "" && len(submission.Attachments) == 0 {
		return appErrors.Clone(appErrors.ErrValidation, "a submission needs text or at least one attachment")
	}
	return nil
}

// stampSubmission records the hand-in moment. Submit and Resubmit always
// re-stamp so lateness reflects the latest hand-in, not the first one.
func (s *HomeworkService) stampSubmission(submission *models.HomeworkSubmission) {
	now := s.clock.Now()
	today := s.clock.Today()
	submission.SubmissionDate = &today
	submission.SubmissionTime = &now
}

func (s *HomeworkService) observeTransition(action string, ok bool) {
	if s.metrics != nil {
		s.metrics.ObserveHomeworkTransition(action, ok)
	}
}

func statsCacheKey(assignmentID string) string {
	return "homework:stats:" + assignmentID
}
