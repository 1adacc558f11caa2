package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-audit-api/internal/models"
	"github.com/noah-isme/sma-audit-api/internal/service"
)

// Audit records a ledger entry after a successful request on the decorated
// route. Failed requests (status >= 400) leave no entry. The write is
// best-effort; a recording failure never alters the response, but it is
// logged, counted and handed to the escalator like any other failed
// best-effort audit write.
func Audit(recorder *service.RecorderService, escalator service.Escalator, event models.AuditEvent, subjectType string, tags ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now().UTC()
		c.Next()

		if c.Writer.Status() >= 400 {
			return
		}

		var actor *models.ActorRef
		if claims := CurrentClaims(c); claims != nil {
			actor = models.UserActor(claims.UserID)
		}

		var subject *models.SubjectRef
		if id := c.Param("id"); id != "" && subjectType != "" {
			subject = &models.SubjectRef{Type: subjectType, ID: id}
		}

		recorder.RecordBestEffort(c.Request.Context(), service.RecordInput{
			Actor:   actor,
			Event:   event,
			Subject: subject,
			NewValues: map[string]interface{}{
				"path":       c.FullPath(),
				"method":     c.Request.Method,
				"status":     c.Writer.Status(),
				"latency_ms": time.Since(start).Milliseconds(),
			},
			Context: models.RequestContext{
				URL:       c.Request.URL.Path,
				IPAddress: c.ClientIP(),
				UserAgent: c.GetHeader("User-Agent"),
			},
			Tags: tags,
		}, escalator)
	}
}
