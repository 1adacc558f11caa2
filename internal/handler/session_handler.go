package handler

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-audit-api/internal/models"
	"github.com/noah-isme/sma-audit-api/internal/service"
	appErrors "github.com/noah-isme/sma-audit-api/pkg/errors"
	"github.com/noah-isme/sma-audit-api/pkg/response"
)

// SessionHandler exposes session inspection and termination endpoints.
type SessionHandler struct {
	queries  *service.QueryService
	security *service.SecurityService
}

// NewSessionHandler constructs SessionHandler.
func NewSessionHandler(queries *service.QueryService, security *service.SecurityService) *SessionHandler {
	return &SessionHandler{queries: queries, security: security}
}

func sessionFilterFromQuery(c *gin.Context) models.SessionFilter {
	var filter models.SessionFilter
	filter.UserID = c.Query("userId")
	filter.Active = queryBool(c, "active")
	filter.DeviceType = models.DeviceType(c.Query("deviceType"))
	filter.LoginMethod = c.Query("loginMethod")
	filter.Search = strings.TrimSpace(c.Query("search"))
	filter.DateFrom = queryTime(c, "dateFrom")
	filter.DateTo = queryTime(c, "dateTo")
	filter.Page = queryInt(c, "page", 1)
	filter.PageSize = queryInt(c, "limit", 20)
	filter.SortOrder = c.Query("order")
	return filter
}

// List godoc
// @Summary List sessions
// @Tags Sessions
// @Produce json
// @Param userId query string false "Filter by user"
// @Param active query bool false "Filter by active state"
// @Param deviceType query string false "Filter by device type"
// @Param loginMethod query string false "Filter by login method"
// @Param dateFrom query string false "Start of date range"
// @Param dateTo query string false "End of date range"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /sessions [get]
func (h *SessionHandler) List(c *gin.Context) {
	sessions, pagination, err := h.queries.ListSessions(c.Request.Context(), sessionFilterFromQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, pagination)
}

// Summary godoc
// @Summary Aggregate session activity
// @Tags Sessions
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /sessions/summary [get]
func (h *SessionHandler) Summary(c *gin.Context) {
	summary, err := h.queries.SessionSummary(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// Terminate godoc
// @Summary Terminate a session
// @Description End a specific session on behalf of an administrator
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/{id} [delete]
func (h *SessionHandler) Terminate(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	session, err := h.security.TerminateSession(c.Request.Context(), claims, c.Param("id"), requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// Export godoc
// @Summary Export sessions
// @Tags Sessions
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf"
// @Success 200 {file} byte
// @Router /sessions/export [get]
func (h *SessionHandler) Export(c *gin.Context) {
	format := c.DefaultQuery("format", "csv")
	payload, contentType, err := h.queries.ExportSessions(c.Request.Context(), sessionFilterFromQuery(c), format)
	if err != nil {
		response.Error(c, err)
		return
	}

	filename := fmt.Sprintf("sessions-%s.%s", time.Now().UTC().Format("20060102-150405"), format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, payload)
}
