package audit

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fraudops/decisioning/internal/auth"
	"github.com/fraudops/decisioning/internal/models"
	"github.com/fraudops/decisioning/internal/repositories"
)

// RegisterRoutes mounts the audit endpoints. Writes sit behind the bearer
// check; the read paths stay open for investigators and tooling. Static
// segments win over the :event_id parameter, so /audit/events and
// /audit/verify/... never shadow a lookup.
func RegisterRoutes(router *gin.Engine, svc *Service, jwtManager *auth.JWTManager) {
	authed := auth.Middleware(jwtManager)
	router.POST("/audit/event", authed, logEventHandler(svc))
	router.POST("/audit/decision", authed, logDecisionHandler(svc))
	router.POST("/audit/case", authed, logCaseHandler(svc))

	router.GET("/audit/events", listHandler(svc))
	router.GET("/audit/verify/:event_id", verifyHandler(svc))
	router.GET("/audit/:event_id", getHandler(svc))
}

type auditEventRequest struct {
	EventID   string       `json:"event_id"`
	EventType string       `json:"event_type"`
	EntityID  string       `json:"entity_id"`
	UserID    string       `json:"user_id"`
	Action    string       `json:"action"`
	Details   models.JSONB `json:"details"`
}

func logEventHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req auditEventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"status": "error",
				"error":  "malformed payload: " + err.Error(),
			})
			return
		}
		if req.EventID == "" || req.EventType == "" || req.Action == "" {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"status": "error",
				"error":  "event_id, event_type and action are required",
			})
			return
		}

		payload := models.JSONB{
			"event_id":   req.EventID,
			"event_type": req.EventType,
			"action":     req.Action,
		}
		if req.EntityID != "" {
			payload["entity_id"] = req.EntityID
		}
		if req.UserID != "" {
			payload["user_id"] = req.UserID
		}
		if req.Details != nil {
			payload["details"] = map[string]interface{}(req.Details)
		}

		bundle, err := svc.Record(c.Request.Context(), RecordRequest{
			EventID:      req.EventID,
			EventType:    req.EventType,
			EvidenceType: models.EvidenceTypeAuditEvent,
			EntityID:     req.EntityID,
			UserID:       req.UserID,
			Action:       req.Action,
			Payload:      payload,
			Details:      req.Details,
		})
		if err != nil {
			respondStoreError(c, err)
			return
		}
		respondStored(c, bundle)
	}
}

func logDecisionHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, ok := bindEvidencePayload(c)
		if !ok {
			return
		}

		eventID := stringField(payload, "event_id")
		if eventID == "" {
			eventID = uuid.NewString()
		}
		action := stringField(payload, "action")
		if action == "" {
			action = "decision_made"
		}

		bundle, err := svc.Record(c.Request.Context(), RecordRequest{
			EventID:      eventID,
			EventType:    models.EvidenceTypeDecision,
			EvidenceType: models.EvidenceTypeDecision,
			EntityID:     stringField(payload, "entity_id"),
			UserID:       stringField(payload, "user_id"),
			Action:       action,
			Payload:      payload,
			Details:      payload,
		})
		if err != nil {
			respondStoreError(c, err)
			return
		}
		respondStored(c, bundle)
	}
}

func logCaseHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, ok := bindEvidencePayload(c)
		if !ok {
			return
		}

		eventID := stringField(payload, "event_id")
		if eventID == "" {
			eventID = uuid.NewString()
		}
		action := stringField(payload, "action")
		if action == "" {
			action = "case_event"
		}

		bundle, err := svc.Record(c.Request.Context(), RecordRequest{
			EventID:      eventID,
			EventType:    models.EvidenceTypeCaseEvent,
			EvidenceType: models.EvidenceTypeCaseEvent,
			EntityID:     stringField(payload, "case_id"),
			UserID:       stringField(payload, "user_id"),
			Action:       action,
			Payload:      payload,
			Details:      payload,
		})
		if err != nil {
			respondStoreError(c, err)
			return
		}
		respondStored(c, bundle)
	}
}

func getHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		record, bundle, err := svc.Bundle(c.Request.Context(), c.Param("event_id"))
		if errors.Is(err, repositories.ErrAuditEventNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"status": "error",
				"error":  "audit event not found",
			})
			return
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "error",
				"error":  "audit index unavailable",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"record":   record,
			"evidence": bundle,
		})
	}
}

func listHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := intQuery(c, "limit", 50)
		if !ok {
			return
		}
		offset, ok := intQuery(c, "offset", 0)
		if !ok {
			return
		}

		filter := repositories.AuditListFilter{
			EventType: c.Query("event_type"),
			EntityID:  c.Query("entity_id"),
			UserID:    c.Query("user_id"),
			Limit:     limit,
			Offset:    offset,
		}

		records, total, err := svc.List(c.Request.Context(), filter)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "error",
				"error":  "audit index unavailable",
			})
			return
		}
		if records == nil {
			records = []*models.AuditRecord{}
		}

		c.JSON(http.StatusOK, gin.H{
			"events":      records,
			"total_count": total,
			"limit":       filter.Limit,
			"offset":      filter.Offset,
		})
	}
}

func verifyHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := svc.Verify(c.Request.Context(), c.Param("event_id"))
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "error",
				"error":  "verification unavailable",
			})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// bindEvidencePayload reads a free-form JSON document from the request.
func bindEvidencePayload(c *gin.Context) (models.JSONB, bool) {
	var payload models.JSONB
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  "malformed payload: " + err.Error(),
		})
		return nil, false
	}
	if len(payload) == 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"status": "error",
			"error":  "payload must not be empty",
		})
		return nil, false
	}
	return payload, true
}

func respondStored(c *gin.Context, bundle *models.EvidenceBundle) {
	c.JSON(http.StatusCreated, gin.H{
		"status":    "success",
		"event_id":  bundle.EventID,
		"bundle_id": bundle.BundleID,
		"sha256":    bundle.SHA256,
	})
}

func respondStoreError(c *gin.Context, err error) {
	var ierr *IndexError
	if errors.As(err, &ierr) {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "error",
			"error":  "evidence stored but not indexed",
		})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"status": "error",
		"error":  "evidence store unavailable",
	})
}

func stringField(payload models.JSONB, key string) string {
	value, _ := payload[key].(string)
	return value
}

func intQuery(c *gin.Context, name string, fallback int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  "invalid " + name + " parameter",
		})
		return 0, false
	}
	return value, true
}
