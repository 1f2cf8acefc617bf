package monitor

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes mounts the scrape endpoint and the JSON views over the
// persisted snapshots.
func RegisterRoutes(router *gin.Engine, svc *Service, gatherer prometheus.Gatherer) {
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	router.GET("/metrics/calibration", calibrationHandler(svc))
	router.GET("/metrics/drift", driftHandler(svc))
	router.GET("/metrics/latency", latencyHandler(svc))
}

func calibrationHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := svc.RecentCalibration(c.Request.Context())
		if err != nil {
			respondStoreUnavailable(c)
			return
		}

		entries := make([]gin.H, 0, len(rows))
		modelsSeen := make(map[string]bool)
		latest := make(map[string]float64)
		for _, row := range rows {
			entries = append(entries, gin.H{
				"model_name":  row.ModelName,
				"brier_score": row.MetricValue,
				"timestamp":   row.CreatedAt,
			})
			modelsSeen[row.ModelName] = true
			if _, ok := latest[row.ModelName]; !ok {
				latest[row.ModelName] = row.MetricValue
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"calibration_metrics": entries,
			"summary": gin.H{
				"total_models":        len(modelsSeen),
				"latest_brier_scores": latest,
			},
		})
	}
}

func driftHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := svc.RecentDrift(c.Request.Context())
		if err != nil {
			respondStoreUnavailable(c)
			return
		}

		entries := make([]gin.H, 0, len(rows))
		featuresSeen := make(map[string]bool)
		high := make([]string, 0)
		latest := make(map[string]float64)
		for _, row := range rows {
			level := driftLevel(row.PSIValue)
			entries = append(entries, gin.H{
				"feature_name": row.FeatureName,
				"psi_value":    row.PSIValue,
				"timestamp":    row.CreatedAt,
				"drift_level":  level,
			})
			featuresSeen[row.FeatureName] = true
			if level == "high" {
				high = append(high, row.FeatureName)
			}
			if _, ok := latest[row.FeatureName]; !ok {
				latest[row.FeatureName] = row.PSIValue
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"drift_metrics": entries,
			"summary": gin.H{
				"total_features_monitored": len(featuresSeen),
				"high_drift_features":      high,
				"latest_psi_values":        latest,
			},
		})
	}
}

func latencyHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := svc.LatencyReport(c.Request.Context())
		if err != nil {
			respondStoreUnavailable(c)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"latency_metrics": summary,
			"timestamp":       time.Now().UTC(),
		})
	}
}

func driftLevel(psi float64) string {
	switch {
	case psi > 0.2:
		return "high"
	case psi > 0.1:
		return "medium"
	default:
		return "low"
	}
}

func respondStoreUnavailable(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"status": "error",
		"error":  "metrics store unavailable",
	})
}
