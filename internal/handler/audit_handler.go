package handler

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-audit-api/internal/models"
	"github.com/noah-isme/sma-audit-api/internal/service"
	"github.com/noah-isme/sma-audit-api/pkg/response"
)

// AuditHandler exposes the read-only audit trail endpoints.
type AuditHandler struct {
	queries *service.QueryService
}

// NewAuditHandler constructs AuditHandler.
func NewAuditHandler(queries *service.QueryService) *AuditHandler {
	return &AuditHandler{queries: queries}
}

func auditFilterFromQuery(c *gin.Context) models.AuditFilter {
	var filter models.AuditFilter
	filter.ActorID = c.Query("actorId")
	filter.Event = models.AuditEvent(c.Query("event"))
	filter.SubjectType = c.Query("subjectType")
	filter.Tag = c.Query("tag")
	filter.Search = strings.TrimSpace(c.Query("search"))
	filter.DateFrom = queryTime(c, "dateFrom")
	filter.DateTo = queryTime(c, "dateTo")
	filter.Page = queryInt(c, "page", 1)
	filter.PageSize = queryInt(c, "limit", 20)
	filter.SortOrder = c.Query("order")
	return filter
}

// List godoc
// @Summary List audit entries
// @Tags Audit
// @Produce json
// @Param actorId query string false "Filter by actor"
// @Param event query string false "Filter by event"
// @Param subjectType query string false "Filter by subject type"
// @Param tag query string false "Filter by tag"
// @Param search query string false "Search in URL or IP"
// @Param dateFrom query string false "Start of date range (RFC3339 or YYYY-MM-DD)"
// @Param dateTo query string false "End of date range"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /audit [get]
func (h *AuditHandler) List(c *gin.Context) {
	entries, pagination, err := h.queries.ListAuditEntries(c.Request.Context(), auditFilterFromQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, pagination)
}

// Get godoc
// @Summary Get audit entry detail
// @Tags Audit
// @Produce json
// @Param id path string true "Entry ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /audit/{id} [get]
func (h *AuditHandler) Get(c *gin.Context) {
	entry, err := h.queries.GetAuditEntry(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}

// Summary godoc
// @Summary Aggregate audit activity
// @Tags Audit
// @Produce json
// @Param dateFrom query string false "Start of date range"
// @Param dateTo query string false "End of date range"
// @Success 200 {object} response.Envelope
// @Router /audit/summary [get]
func (h *AuditHandler) Summary(c *gin.Context) {
	summary, err := h.queries.AuditSummary(c.Request.Context(), queryTime(c, "dateFrom"), queryTime(c, "dateTo"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// Export godoc
// @Summary Export audit entries
// @Tags Audit
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf"
// @Success 200 {file} byte
// @Router /audit/export [get]
func (h *AuditHandler) Export(c *gin.Context) {
	format := c.DefaultQuery("format", "csv")
	payload, contentType, err := h.queries.ExportAuditEntries(c.Request.Context(), auditFilterFromQuery(c), format)
	if err != nil {
		response.Error(c, err)
		return
	}

	filename := fmt.Sprintf("audit-trail-%s.%s", time.Now().UTC().Format("20060102-150405"), format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, payload)
}
