package scoring

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fraudops/decisioning/internal/models"
)

// RegisterRoutes mounts the synchronous scoring endpoint.
func RegisterRoutes(router *gin.Engine, engine *Engine) {
	router.POST("/score", scoreHandler(engine))
}

// scoreHandler scores a vector inline without touching the log, so
// callers can probe what-if vectors safely.
func scoreHandler(engine *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var vector models.FeatureVector
		if err := c.ShouldBindJSON(&vector); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"status": "error",
				"error":  "malformed payload: " + err.Error(),
			})
			return
		}

		output := engine.ScoreVector(&vector)
		c.JSON(http.StatusOK, output)
	}
}
