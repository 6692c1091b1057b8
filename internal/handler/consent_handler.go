package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-portal-api/internal/models"
	"github.com/noah-isme/sma-portal-api/internal/service"
	appErrors "github.com/noah-isme/sma-portal-api/pkg/errors"
	"github.com/noah-isme/sma-portal-api/pkg/response"
)

// ConsentHandler exposes the parental consent endpoints.
type ConsentHandler struct {
	consents *service.ConsentService
}

// NewConsentHandler constructs ConsentHandler.
func NewConsentHandler(consents *service.ConsentService) *ConsentHandler {
	return &ConsentHandler{consents: consents}
}

// List godoc
// @Summary List consent requests
// @Tags Consents
// @Produce json
// @Param studentId query string false "Filter by student"
// @Param guardianId query string false "Filter by guardian"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /consents [get]
func (h *ConsentHandler) List(c *gin.Context) {
	var filter models.ConsentFilter
	filter.StudentID = c.Query("studentId")
	filter.GuardianID = c.Query("guardianId")
	filter.Status = models.ConsentStatus(c.Query("status"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	consents, total, err := h.consents.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	response.JSON(c, http.StatusOK, consents, pagination)
}

// Get godoc
// @Summary Get consent request detail
// @Tags Consents
// @Produce json
// @Param id path string true "Consent ID"
// @Success 200 {object} response.Envelope
// @Router /consents/{id} [get]
func (h *ConsentHandler) Get(c *gin.Context) {
	consent, err := h.consents.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, consent, nil)
}

// Create godoc
// @Summary Open a consent request
// @Tags Consents
// @Accept json
// @Produce json
// @Param payload body service.CreateConsentRequest true "Consent payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /consents [post]
func (h *ConsentHandler) Create(c *gin.Context) {
	var req service.CreateConsentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	consent, err := h.consents.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, consent)
}

// Request godoc
// @Summary Send the consent request to the guardian
// @Tags Consents
// @Produce json
// @Param id path string true "Consent ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /consents/{id}/request [post]
func (h *ConsentHandler) Request(c *gin.Context) {
	consent, err := h.consents.RequestConsent(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, consent, nil)
}

// Approve godoc
// @Summary Approve a consent request
// @Tags Consents
// @Accept json
// @Produce json
// @Param id path string true "Consent ID"
// @Param payload body service.ApproveConsentRequest false "Approval payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /consents/{id}/approve [post]
func (h *ConsentHandler) Approve(c *gin.Context) {
	var req service.ApproveConsentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
			return
		}
	}
	consent, err := h.consents.Approve(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, consent, nil)
}

// Decline godoc
// @Summary Decline a consent request
// @Tags Consents
// @Accept json
// @Produce json
// @Param id path string true "Consent ID"
// @Param payload body service.DeclineConsentRequest false "Decline payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /consents/{id}/decline [post]
func (h *ConsentHandler) Decline(c *gin.Context) {
	var req service.DeclineConsentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
			return
		}
	}
	consent, err := h.consents.Decline(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, consent, nil)
}

// Withdraw godoc
// @Summary Withdraw previously given consent
// @Tags Consents
// @Accept json
// @Produce json
// @Param id path string true "Consent ID"
// @Param payload body service.WithdrawConsentRequest false "Withdrawal payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /consents/{id}/withdraw [post]
func (h *ConsentHandler) Withdraw(c *gin.Context) {
	var req service.WithdrawConsentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
			return
		}
	}
	consent, err := h.consents.Withdraw(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, consent, nil)
}

// Related godoc
// @Summary List other consent requests for the same student
// @Tags Consents
// @Produce json
// @Param id path string true "Consent ID"
// @Success 200 {object} response.Envelope
// @Router /consents/{id}/related [get]
func (h *ConsentHandler) Related(c *gin.Context) {
	related, err := h.consents.Related(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, related, nil)
}

// Summary godoc
// @Summary Consent counts by status
// @Tags Consents
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /consents/summary [get]
func (h *ConsentHandler) Summary(c *gin.Context) {
	summary, err := h.consents.Summary(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// Report godoc
// @Summary Download a consent status report
// @Tags Consents
// @Produce application/pdf
// @Param id path string true "Consent ID"
// @Success 200 {file} binary
// @Router /consents/{id}/report [get]
func (h *ConsentHandler) Report(c *gin.Context) {
	pdf, filename, err := h.consents.Report(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, "application/pdf", pdf)
}

// Export godoc
// @Summary Export consent requests as CSV
// @Tags Consents
// @Produce text/csv
// @Param studentId query string false "Filter by student"
// @Param status query string false "Filter by status"
// @Success 200 {file} binary
// @Router /consents/export [get]
func (h *ConsentHandler) Export(c *gin.Context) {
	filter := models.ConsentFilter{
		StudentID:  c.Query("studentId"),
		GuardianID: c.Query("guardianId"),
		Status:     models.ConsentStatus(c.Query("status")),
		PageSize:   200,
	}
	data, filename, err := h.consents.ExportCSV(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, "text/csv", data)
}

// Sweep godoc
// @Summary Run the consent expiry sweep
// @Tags Consents
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /consents/sweep [post]
func (h *ConsentHandler) Sweep(c *gin.Context) {
	result, err := h.consents.ExpirySweep(c.Request.Context(), time.Now().UTC())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
