package ingest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fraudops/decisioning/internal/models"
)

// RegisterRoutes mounts the ingest endpoints on the router.
func RegisterRoutes(router *gin.Engine, svc *Service) {
	router.POST("/txn", ingestTransactionHandler(svc))
	router.POST("/claim", ingestClaimHandler(svc))
}

func ingestTransactionHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var event models.TransactionEvent
		if err := c.ShouldBindJSON(&event); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"status": "error",
				"error":  "malformed payload: " + err.Error(),
			})
			return
		}

		if err := svc.IngestTransaction(c.Request.Context(), &event); err != nil {
			respondIngestError(c, err)
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"status":   "success",
			"event_id": event.EventID,
			"message":  "transaction event ingested",
		})
	}
}

func ingestClaimHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var event models.ClaimEvent
		if err := c.ShouldBindJSON(&event); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"status": "error",
				"error":  "malformed payload: " + err.Error(),
			})
			return
		}

		if err := svc.IngestClaim(c.Request.Context(), &event); err != nil {
			respondIngestError(c, err)
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"status":   "success",
			"event_id": event.EventID,
			"message":  "claim event ingested",
		})
	}
}

func respondIngestError(c *gin.Context, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"status": "error",
			"error":  verr.Error(),
		})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"status": "error",
		"error":  "event log unavailable",
	})
}
