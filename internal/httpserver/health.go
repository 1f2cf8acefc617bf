package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthCheck probes one dependency of a service.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// RegisterHealth mounts GET /healthz. The endpoint reports 200 while
// every dependency answers and 503 with per-dependency detail when one
// does not.
func RegisterHealth(router *gin.Engine, service string, checks ...HealthCheck) {
	router.GET("/healthz", func(c *gin.Context) {
		status := http.StatusOK
		deps := gin.H{}
		for _, hc := range checks {
			if err := hc.Check(c.Request.Context()); err != nil {
				deps[hc.Name] = "unavailable"
				status = http.StatusServiceUnavailable
			} else {
				deps[hc.Name] = "ok"
			}
		}

		body := gin.H{
			"status":    "healthy",
			"service":   service,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
		if status != http.StatusOK {
			body["status"] = "degraded"
		}
		if len(deps) > 0 {
			body["dependencies"] = deps
		}
		c.JSON(status, body)
	})
}
