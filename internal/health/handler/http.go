package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Ready handles GET /readyz.
func (s *Server) Ready(c *gin.Context) {
	if s.status(c.Request.Context()) != healthpb.HealthCheckResponse_SERVING {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_serving"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "serving"})
}

// Live handles GET /healthz. It never consults dependencies.
func (s *Server) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
