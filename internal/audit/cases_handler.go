package audit

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fraudops/decisioning/internal/auth"
	"github.com/fraudops/decisioning/internal/models"
	"github.com/fraudops/decisioning/internal/repositories"
)

// RegisterCaseRoutes mounts the investigation workflow endpoints.
// Reads stay open for dashboards; every mutation requires a bearer
// token so rows carry the acting analyst.
func RegisterCaseRoutes(router *gin.Engine, cases CaseStore, jwtManager *auth.JWTManager) {
	authed := auth.Middleware(jwtManager)

	router.GET("/cases", listCasesHandler(cases))
	router.GET("/cases/:case_id", getCaseHandler(cases))
	router.GET("/cases/:case_id/sla", caseSLAHandler(cases))
	router.PATCH("/cases/:case_id/assign", authed, assignCaseHandler(cases))
	router.PATCH("/cases/:case_id/status", authed, caseStatusHandler(cases))
	router.POST("/cases/:case_id/note", authed, caseNoteHandler(cases))
	router.POST("/cases/:case_id/action", authed, caseActionHandler(cases))
}

func listCasesHandler(cases CaseStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := intQuery(c, "limit", 50)
		if !ok {
			return
		}
		offset, ok := intQuery(c, "offset", 0)
		if !ok {
			return
		}

		filter := repositories.CaseListFilter{
			Status:     c.Query("status"),
			AssignedTo: c.Query("assigned_to"),
			Priority:   c.Query("priority"),
			Limit:      limit,
			Offset:     offset,
		}

		records, err := cases.List(c.Request.Context(), filter)
		if err != nil {
			respondCaseError(c, err)
			return
		}
		total, err := cases.Count(c.Request.Context(), filter)
		if err != nil {
			respondCaseError(c, err)
			return
		}
		if records == nil {
			records = []*models.CaseRecord{}
		}

		c.JSON(http.StatusOK, gin.H{
			"cases":       records,
			"total_count": total,
			"limit":       filter.Limit,
			"offset":      filter.Offset,
		})
	}
}

func getCaseHandler(cases CaseStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		caseID := c.Param("case_id")
		record, err := cases.GetByCaseID(c.Request.Context(), caseID)
		if err != nil {
			respondCaseError(c, err)
			return
		}

		if record.Notes, err = cases.NotesFor(c.Request.Context(), caseID); err != nil {
			respondCaseError(c, err)
			return
		}
		if record.Actions, err = cases.ActionsFor(c.Request.Context(), caseID); err != nil {
			respondCaseError(c, err)
			return
		}

		c.JSON(http.StatusOK, record)
	}
}

func caseSLAHandler(cases CaseStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		record, err := cases.GetByCaseID(c.Request.Context(), c.Param("case_id"))
		if err != nil {
			respondCaseError(c, err)
			return
		}

		now := time.Now().UTC()
		response := gin.H{
			"case_id":      record.CaseID,
			"sla_deadline": record.SLADeadline,
			"priority":     record.Priority,
		}
		if now.After(record.SLADeadline) {
			response["sla_status"] = "breached"
			response["time_remaining_hours"] = nil
		} else {
			response["sla_status"] = "active"
			response["time_remaining_hours"] = record.SLADeadline.Sub(now).Hours()
		}

		c.JSON(http.StatusOK, response)
	}
}

func assignCaseHandler(cases CaseStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			AssignedTo string `json:"assigned_to"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondMalformed(c, err)
			return
		}
		if req.AssignedTo == "" {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"status": "error",
				"error":  "assigned_to is required",
			})
			return
		}

		caseID := c.Param("case_id")
		if err := cases.Assign(c.Request.Context(), caseID, req.AssignedTo); err != nil {
			respondCaseError(c, err)
			return
		}

		action := &models.CaseAction{
			ActionID:    uuid.NewString(),
			CaseID:      caseID,
			ActionType:  "assignment",
			Description: fmt.Sprintf("Case assigned to %s", req.AssignedTo),
			PerformedBy: actingUser(c),
		}
		if err := cases.InsertAction(c.Request.Context(), action); err != nil {
			respondCaseError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "success",
			"case_id": caseID,
		})
	}
}

func caseStatusHandler(cases CaseStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Status string `json:"status"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondMalformed(c, err)
			return
		}
		if !models.ValidCaseStatus(req.Status) {
			c.JSON(http.StatusBadRequest, gin.H{
				"status": "error",
				"error":  "invalid case status: " + req.Status,
			})
			return
		}

		caseID := c.Param("case_id")
		if err := cases.UpdateStatus(c.Request.Context(), caseID, req.Status); err != nil {
			respondCaseError(c, err)
			return
		}

		action := &models.CaseAction{
			ActionID:    uuid.NewString(),
			CaseID:      caseID,
			ActionType:  "status_change",
			Description: fmt.Sprintf("Status changed to %s", req.Status),
			PerformedBy: actingUser(c),
		}
		if err := cases.InsertAction(c.Request.Context(), action); err != nil {
			respondCaseError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "success",
			"case_id": caseID,
		})
	}
}

func caseNoteHandler(cases CaseStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Content    string `json:"content"`
			IsInternal bool   `json:"is_internal"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondMalformed(c, err)
			return
		}
		if req.Content == "" {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"status": "error",
				"error":  "content is required",
			})
			return
		}

		note := &models.CaseNote{
			NoteID:     uuid.NewString(),
			CaseID:     c.Param("case_id"),
			Author:     actingUser(c),
			Content:    req.Content,
			IsInternal: req.IsInternal,
		}
		if err := cases.InsertNote(c.Request.Context(), note); err != nil {
			respondCaseError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"status":  "success",
			"note_id": note.NoteID,
		})
	}
}

func caseActionHandler(cases CaseStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			ActionType  string `json:"action_type"`
			Description string `json:"description"`
			Outcome     string `json:"outcome"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondMalformed(c, err)
			return
		}
		if req.ActionType == "" || req.Description == "" {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"status": "error",
				"error":  "action_type and description are required",
			})
			return
		}

		action := &models.CaseAction{
			ActionID:    uuid.NewString(),
			CaseID:      c.Param("case_id"),
			ActionType:  req.ActionType,
			Description: req.Description,
			Outcome:     req.Outcome,
			PerformedBy: actingUser(c),
		}
		if err := cases.InsertAction(c.Request.Context(), action); err != nil {
			respondCaseError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"status":    "success",
			"action_id": action.ActionID,
		})
	}
}

// actingUser names the analyst behind a mutation, falling back to
// "system" on unattributed requests.
func actingUser(c *gin.Context) string {
	if userID, ok := auth.UserIDFromContext(c); ok && userID != "" {
		return userID
	}
	return "system"
}

func respondMalformed(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"status": "error",
		"error":  "malformed payload: " + err.Error(),
	})
}

func respondCaseError(c *gin.Context, err error) {
	if errors.Is(err, repositories.ErrCaseNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"status": "error",
			"error":  "case not found",
		})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"status": "error",
		"error":  "case store unavailable",
	})
}
