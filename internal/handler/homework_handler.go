package handler

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-portal-api/internal/models"
	"github.com/noah-isme/sma-portal-api/internal/service"
	appErrors "github.com/noah-isme/sma-portal-api/pkg/errors"
	"github.com/noah-isme/sma-portal-api/pkg/response"
)

// HomeworkHandler exposes the homework submission endpoints.
type HomeworkHandler struct {
	homework *service.HomeworkService
}

// NewHomeworkHandler constructs HomeworkHandler.
func NewHomeworkHandler(homework *service.HomeworkService) *HomeworkHandler {
	return &HomeworkHandler{homework: homework}
}

// List godoc
// @Summary List homework submissions
// @Tags Homework
// @Produce json
// @Param assignmentId query string false "Filter by assignment"
// @Param studentId query string false "Filter by student"
// @Param status query string false "Filter by status"
// @Param late query bool false "Filter by lateness"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /homework/submissions [get]
func (h *HomeworkHandler) List(c *gin.Context) {
	var filter models.SubmissionFilter
	filter.AssignmentID = c.Query("assignmentId")
	filter.StudentID = c.Query("studentId")
	filter.Status = models.SubmissionStatus(c.Query("status"))
	if late := c.Query("late"); late != "" {
		if late == "true" {
			v := true
			filter.IsLate = &v
		} else if late == "false" {
			v := false
			filter.IsLate = &v
		}
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	submissions, total, err := h.homework.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	response.JSON(c, http.StatusOK, submissions, pagination)
}

// Get godoc
// @Summary Get submission detail
// @Tags Homework
// @Produce json
// @Param id path string true "Submission ID"
// @Success 200 {object} response.Envelope
// @Router /homework/submissions/{id} [get]
func (h *HomeworkHandler) Get(c *gin.Context) {
	submission, err := h.homework.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, submission, nil)
}

// Create godoc
// @Summary Create a homework submission
// @Tags Homework
// @Accept json
// @Produce json
// @Param payload body service.CreateSubmissionRequest true "Submission payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /homework/submissions [post]
func (h *HomeworkHandler) Create(c *gin.Context) {
	var req service.CreateSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	submission, err := h.homework.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, submission)
}

// Submit godoc
// @Summary Submit a draft
// @Tags Homework
// @Produce json
// @Param id path string true "Submission ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /homework/submissions/{id}/submit [post]
func (h *HomeworkHandler) Submit(c *gin.Context) {
	submission, err := h.homework.Submit(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, submission, nil)
}

// Grade godoc
// @Summary Grade a submission
// @Tags Homework
// @Accept json
// @Produce json
// @Param id path string true "Submission ID"
// @Param payload body service.GradeSubmissionRequest true "Grading payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /homework/submissions/{id}/grade [post]
func (h *HomeworkHandler) Grade(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.GradeSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	submission, err := h.homework.Grade(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, submission, nil)
}

// AmendGrade godoc
// @Summary Correct the grade on an already graded submission
// @Tags Homework
// @Accept json
// @Produce json
// @Param id path string true "Submission ID"
// @Param payload body service.GradeSubmissionRequest true "Grading payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /homework/submissions/{id}/grade [put]
func (h *HomeworkHandler) AmendGrade(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.GradeSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	submission, err := h.homework.AmendGrade(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, submission, nil)
}

// Return godoc
// @Summary Return a submission for revision
// @Tags Homework
// @Accept json
// @Produce json
// @Param id path string true "Submission ID"
// @Param payload body service.ReturnSubmissionRequest true "Feedback payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /homework/submissions/{id}/return [post]
func (h *HomeworkHandler) Return(c *gin.Context) {
	var req service.ReturnSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	submission, err := h.homework.ReturnForRevision(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, submission, nil)
}

// Resubmit godoc
// @Summary Resubmit returned homework
// @Tags Homework
// @Accept json
// @Produce json
// @Param id path string true "Submission ID"
// @Param payload body service.ResubmitSubmissionRequest false "Rework payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /homework/submissions/{id}/resubmit [post]
func (h *HomeworkHandler) Resubmit(c *gin.Context) {
	var req service.ResubmitSubmissionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
			return
		}
	}
	submission, err := h.homework.Resubmit(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, submission, nil)
}

// Extend godoc
// @Summary Grant a due date extension
// @Tags Homework
// @Accept json
// @Produce json
// @Param id path string true "Submission ID"
// @Param payload body service.ExtensionRequest true "Extension payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /homework/submissions/{id}/extend [post]
func (h *HomeworkHandler) Extend(c *gin.Context) {
	var req service.ExtensionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	submission, err := h.homework.GrantExtension(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, submission, nil)
}

// History godoc
// @Summary Submission history for a student on an assignment
// @Tags Homework
// @Produce json
// @Param assignmentId query string true "Assignment ID"
// @Param studentId query string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /homework/history [get]
func (h *HomeworkHandler) History(c *gin.Context) {
	assignmentID := c.Query("assignmentId")
	studentID := c.Query("studentId")
	if assignmentID == "" || studentID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "assignmentId and studentId are required"))
		return
	}
	history, err := h.homework.History(c.Request.Context(), assignmentID, studentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, history, nil)
}

// Stats godoc
// @Summary Assignment submission statistics
// @Tags Homework
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Router /homework/assignments/{id}/stats [get]
func (h *HomeworkHandler) Stats(c *gin.Context) {
	stats, err := h.homework.Stats(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// Upload godoc
// @Summary Attach a file to a submission
// @Tags Homework
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Submission ID"
// @Param file formData file true "Attachment"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /homework/submissions/{id}/attachments [post]
func (h *HomeworkHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file field is required"))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "cannot read uploaded file"))
		return
	}
	defer file.Close() //nolint:errcheck

	submission, err := h.homework.AttachFile(c.Request.Context(), c.Param("id"), fileHeader.Filename, file)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, submission, nil)
}

// AttachmentLink godoc
// @Summary Signed download link for a submission attachment
// @Tags Homework
// @Produce json
// @Param id path string true "Submission ID"
// @Param name path string true "Attachment filename"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /homework/submissions/{id}/attachments/{name} [get]
func (h *HomeworkHandler) AttachmentLink(c *gin.Context) {
	url, expiresAt, err := h.homework.AttachmentURL(c.Request.Context(), c.Param("id"), c.Param("name"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"url": url, "expires_at": expiresAt}, nil)
}

// RemoveAttachment godoc
// @Summary Remove an attachment from an editable submission
// @Tags Homework
// @Produce json
// @Param id path string true "Submission ID"
// @Param name path string true "Attachment filename"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /homework/submissions/{id}/attachments/{name} [delete]
func (h *HomeworkHandler) RemoveAttachment(c *gin.Context) {
	submission, err := h.homework.RemoveAttachment(c.Request.Context(), c.Param("id"), c.Param("name"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, submission, nil)
}

// Download godoc
// @Summary Download an attachment with a signed token
// @Tags Homework
// @Produce application/octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} binary
// @Failure 401 {object} response.Envelope
// @Router /homework/files/{token} [get]
func (h *HomeworkHandler) Download(c *gin.Context) {
	file, filename, err := h.homework.OpenAttachment(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	c.Header("Content-Disposition", "attachment; filename="+strconv.Quote(filename))
	c.Header("Content-Type", "application/octet-stream")
	if _, err := io.Copy(c.Writer, file); err != nil {
		_ = c.Error(err)
	}
}
