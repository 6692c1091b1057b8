package service

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-portal-api/internal/models"
	appErrors "github.com/noah-isme/sma-portal-api/pkg/errors"
	"github.com/noah-isme/sma-portal-api/pkg/storage"
)

func newAttachmentFixture(t *testing.T) (*HomeworkService, *mockSubmissionRepo) {
	t.Helper()
	clock := &fixedClock{now: time.Date(2024, 9, 8, 14, 0, 0, 0, time.UTC)}
	svc, repo, _, _ := newHomeworkFixture(clock)

	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	svc.WithAttachments(files, storage.NewSignedURLSigner("test-secret", time.Hour))
	return svc, repo
}

func TestAttachFileRoundTrip(t *testing.T) {
	svc, _ := newAttachmentFixture(t)

	draft, err := svc.Create(context.Background(), CreateSubmissionRequest{
		AssignmentID: "a1",
		StudentID:    "s1",
		Draft:        true,
	})
	require.NoError(t, err)

	sub, err := svc.AttachFile(context.Background(), draft.ID, "essay.pdf", strings.NewReader("pdf bytes"))
	require.NoError(t, err)
	assert.Equal(t, []string{"essay.pdf"}, sub.Attachments)

	url, expiresAt, err := svc.AttachmentURL(context.Background(), draft.ID, "essay.pdf")
	require.NoError(t, err)
	assert.Contains(t, url, "http://portal.local/api/v1/homework/files/")
	assert.True(t, expiresAt.After(time.Now()))

	token := url[strings.LastIndex(url, "/")+1:]
	reader, filename, err := svc.OpenAttachment(token)
	require.NoError(t, err)
	defer reader.Close()
	assert.Equal(t, "essay.pdf", filename)
	content, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "pdf bytes", string(content))
}

func TestAttachFileRejectedAfterHandIn(t *testing.T) {
	svc, repo := newAttachmentFixture(t)

	draft, err := svc.Create(context.Background(), CreateSubmissionRequest{
		AssignmentID:   "a1",
		StudentID:      "s1",
		SubmissionText: "done",
	})
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusSubmitted, repo.records[draft.ID].Status)

	_, err = svc.AttachFile(context.Background(), draft.ID, "late.pdf", strings.NewReader("x"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestRemoveAttachment(t *testing.T) {
	svc, repo := newAttachmentFixture(t)

	draft, err := svc.Create(context.Background(), CreateSubmissionRequest{
		AssignmentID: "a1",
		StudentID:    "s1",
		Draft:        true,
	})
	require.NoError(t, err)

	_, err = svc.AttachFile(context.Background(), draft.ID, "essay.pdf", strings.NewReader("pdf bytes"))
	require.NoError(t, err)
	_, err = svc.AttachFile(context.Background(), draft.ID, "notes.txt", strings.NewReader("notes"))
	require.NoError(t, err)

	sub, err := svc.RemoveAttachment(context.Background(), draft.ID, "essay.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{"notes.txt"}, sub.Attachments)
	assert.Equal(t, []string{"notes.txt"}, repo.records[draft.ID].Attachments)

	// A link for the removed file no longer resolves.
	_, _, err = svc.AttachmentURL(context.Background(), draft.ID, "essay.pdf")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestRemoveAttachmentAfterHandInRejected(t *testing.T) {
	svc, _ := newAttachmentFixture(t)

	draft, err := svc.Create(context.Background(), CreateSubmissionRequest{
		AssignmentID: "a1",
		StudentID:    "s1",
		Draft:        true,
	})
	require.NoError(t, err)
	_, err = svc.AttachFile(context.Background(), draft.ID, "essay.pdf", strings.NewReader("pdf bytes"))
	require.NoError(t, err)
	_, err = svc.Submit(context.Background(), draft.ID)
	require.NoError(t, err)

	_, err = svc.RemoveAttachment(context.Background(), draft.ID, "essay.pdf")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestAttachmentURLUnknownFile(t *testing.T) {
	svc, _ := newAttachmentFixture(t)

	draft, err := svc.Create(context.Background(), CreateSubmissionRequest{
		AssignmentID: "a1",
		StudentID:    "s1",
		Draft:        true,
	})
	require.NoError(t, err)

	_, _, err = svc.AttachmentURL(context.Background(), draft.ID, "ghost.pdf")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestOpenAttachmentRejectsForgedToken(t *testing.T) {
	svc, _ := newAttachmentFixture(t)

	_, _, err := svc.OpenAttachment("sub-1.9999999999.ZXNzYXkucGRm.deadbeef")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}
