package service

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/noah-isme/sma-portal-api/internal/models"
	appErrors "github.com/noah-isme/sma-portal-api/pkg/errors"
	"github.com/noah-isme/sma-portal-api/pkg/storage"
)

// WithAttachments enables file attachments on submissions. Without a store
// the attachment endpoints report the feature as unavailable.
func (s *HomeworkService) WithAttachments(files *storage.LocalStorage, signer *storage.SignedURLSigner) *HomeworkService {
	s.files = files
	s.signer = signer
	return s
}

// AttachFile stores an uploaded file and records it on the submission.
// Files may only be attached while the student can still edit the
// submission, which is before it was handed in or after it came back
// for revision.
func (s *HomeworkService) AttachFile(ctx context.Context, id, filename string, data io.Reader) (*models.HomeworkSubmission, error) {
	if s.files == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "attachment storage is not configured")
	}
	filename = path.Base(filename)
	if filename == "" || filename == "." || filename == "/" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "attachment filename is required")
	}

	submission, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if submission.Status != models.SubmissionStatusDraft && submission.Status != models.SubmissionStatusReturned {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "attachments can only be added to editable submissions")
	}

	relPath := fmt.Sprintf("%s/%s", submission.ID, filename)
	if _, err := s.files.SaveStream(relPath, data); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store attachment")
	}

	if !containsString(submission.Attachments, filename) {
		submission.Attachments = append(submission.Attachments, filename)
	}
	if _, err := s.persist(ctx, submission); err != nil {
		return nil, err
	}
	return submission, nil
}

// RemoveAttachment deletes a stored file and drops it from the submission
// record. Like AttachFile it only works while the submission is editable.
func (s *HomeworkService) RemoveAttachment(ctx context.Context, id, filename string) (*models.HomeworkSubmission, error) {
	if s.files == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "attachment storage is not configured")
	}
	filename = path.Base(filename)

	submission, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if submission.Status != models.SubmissionStatusDraft && submission.Status != models.SubmissionStatusReturned {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "attachments can only be removed from editable submissions")
	}
	if !containsString(submission.Attachments, filename) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "attachment not found")
	}

	relPath := fmt.Sprintf("%s/%s", submission.ID, filename)
	if err := s.files.Delete(relPath); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete attachment")
	}

	kept := submission.Attachments[:0]
	for _, name := range submission.Attachments {
		if name != filename {
			kept = append(kept, name)
		}
	}
	submission.Attachments = kept
	if _, err := s.persist(ctx, submission); err != nil {
		return nil, err
	}
	return submission, nil
}

// AttachmentURL returns a time-limited signed download link for one
// attachment of a submission.
func (s *HomeworkService) AttachmentURL(ctx context.Context, id, filename string) (string, time.Time, error) {
	if s.signer == nil {
		return "", time.Time{}, appErrors.Clone(appErrors.ErrInternal, "attachment storage is not configured")
	}
	submission, err := s.Get(ctx, id)
	if err != nil {
		return "", time.Time{}, err
	}
	if !containsString(submission.Attachments, filename) {
		return "", time.Time{}, appErrors.Clone(appErrors.ErrNotFound, "attachment not found")
	}

	relPath := fmt.Sprintf("%s/%s", submission.ID, filename)
	token, expiresAt, err := s.signer.Generate(submission.ID, relPath)
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign attachment link")
	}
	url := fmt.Sprintf("%s/api/v1/homework/files/%s", s.school.PortalBaseURL, token)
	return url, expiresAt, nil
}

// OpenAttachment validates a signed token and opens the referenced file.
// The caller must close the returned reader.
func (s *HomeworkService) OpenAttachment(token string) (io.ReadCloser, string, error) {
	if s.files == nil || s.signer == nil {
		return nil, "", appErrors.Clone(appErrors.ErrInternal, "attachment storage is not configured")
	}
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid attachment token")
	}
	file, err := s.files.Open(relPath)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "attachment not found")
	}
	return file, path.Base(relPath), nil
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
