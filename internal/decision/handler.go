package decision

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fraudops/decisioning/internal/auth"
	"github.com/fraudops/decisioning/internal/models"
)

// RegisterRoutes mounts the decision endpoints. Policy reloads change
// live behavior, so that route sits behind the bearer check.
func RegisterRoutes(router *gin.Engine, engine *Engine, jwtManager *auth.JWTManager) {
	router.POST("/decide", decideHandler(engine))
	router.GET("/policy", policyHandler(engine))
	router.POST("/policy/reload", auth.Middleware(jwtManager), reloadHandler(engine))
}

// decideHandler decides inline without touching the log, so callers
// can probe what-if score records safely.
func decideHandler(engine *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var score models.ScoreOutput
		if err := c.ShouldBindJSON(&score); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"status": "error",
				"error":  "malformed payload: " + err.Error(),
			})
			return
		}

		decision := engine.Decide(c.Request.Context(), &score)
		c.JSON(http.StatusOK, decision)
	}
}

func policyHandler(engine *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, engine.Policies().Current())
	}
}

func reloadHandler(engine *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		policy, err := engine.Policies().Reload(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "error",
				"error":  "failed to reload policy: " + err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":         "success",
			"policy_version": policy.Version,
		})
	}
}
