package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"drapo/pkg/coordination"
)

// getLeader handles GET /api/v1/cluster/leader
func (s *Server) getLeader(c *gin.Context) {
	if s.election == nil {
		c.JSON(http.StatusOK, gin.H{"leader": nil, "coordination": "none"})
		return
	}
	leader, err := s.election.Leader(c.Request.Context())
	if errors.Is(err, coordination.ErrNoLeader) {
		c.JSON(http.StatusOK, gin.H{"leader": nil})
		return
	}
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to query leader"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"leader": leader})
}
