package features

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fraudops/decisioning/internal/models"
)

// RegisterRoutes mounts the synchronous feature endpoint.
func RegisterRoutes(router *gin.Engine, engine *Engine) {
	router.POST("/process", processHandler(engine))
}

// processHandler computes a vector inline. The async path through the
// log is authoritative; this one serves tests and manual replays.
func processHandler(engine *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventType := c.DefaultQuery("event_type", models.EventTypeTransaction)

		switch eventType {
		case models.EventTypeTransaction:
			var event models.TransactionEvent
			if err := c.ShouldBindJSON(&event); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"status": "error",
					"error":  "malformed payload: " + err.Error(),
				})
				return
			}
			vector, err := engine.ProcessTransaction(c.Request.Context(), &event)
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status": "error",
					"error":  "event log unavailable",
				})
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "success", "features": vector})

		case models.EventTypeClaim:
			var event models.ClaimEvent
			if err := c.ShouldBindJSON(&event); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"status": "error",
					"error":  "malformed payload: " + err.Error(),
				})
				return
			}
			vector, err := engine.ProcessClaim(c.Request.Context(), &event)
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status": "error",
					"error":  "event log unavailable",
				})
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "success", "features": vector})

		default:
			c.JSON(http.StatusBadRequest, gin.H{
				"status": "error",
				"error":  "event_type must be transaction or claim",
			})
		}
	}
}
