// Package diagserver builds the optional diagnostics HTTP surface (spec.md
// §4.9 expansion): GET /healthz (backend reachability) and GET /metrics
// (the session's Prometheus registry), grounded on the teacher's own
// router wiring (internal/router/router.go's "/health" and gin.WrapH(
// promhttp.Handler())). The library never calls ListenAndServe itself —
// New returns an http.Handler the embedding application mounts wherever it
// likes, keeping packaging out of core scope per spec.md's Non-goals.
package diagserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger is the minimal backend surface the health check exercises — a
// cheap read that fails if the backend is unreachable.
type Pinger interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
}

// New builds the diagnostics handler. reg is the session's metrics
// registry (internal/metrics.Metrics.Registry); ping is used for
// /healthz's backend-reachability check.
func New(reg *prometheus.Registry, ping Pinger) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if _, _, err := ping.Get(ctx, "__diagserver_healthcheck__"); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	return r
}
