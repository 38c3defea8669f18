package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"drapo/pkg/models"
	"drapo/pkg/scheduler"
)

// FlowResponse is the API representation of a flow.
type FlowResponse struct {
	Name      string     `json:"name"`
	Gate      string     `json:"gate"`
	Steps     []string   `json:"steps"`
	Schedule  string     `json:"schedule"`
	NextRunAt *time.Time `json:"next_run_at"`
}

// listJobs handles GET /api/v1/jobs
func (s *Server) listJobs(c *gin.Context) {
	names := s.flows.Jobs.Names()
	jobs := make([]models.Job, 0, len(names))
	for _, name := range names {
		jobs = append(jobs, s.flows.Jobs[name])
	}
	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// getJob handles GET /api/v1/jobs/:name
func (s *Server) getJob(c *gin.Context) {
	job, ok := s.flows.Jobs.Lookup(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// listFlows handles GET /api/v1/flows
func (s *Server) listFlows(c *gin.Context) {
	response := make([]FlowResponse, len(s.flows.Flows))
	for i, flow := range s.flows.Flows {
		response[i] = s.flowToResponse(flow)
	}
	c.JSON(http.StatusOK, gin.H{
		"flows": response,
		"count": len(response),
	})
}

// getFlow handles GET /api/v1/flows/:name
func (s *Server) getFlow(c *gin.Context) {
	flow, ok := s.flows.Flow(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "flow not found"})
		return
	}
	c.JSON(http.StatusOK, s.flowToResponse(flow))
}

// triggerFlow handles POST /api/v1/flows/:name/trigger
func (s *Server) triggerFlow(c *gin.Context) {
	trigger, err := s.scheduler.Enqueue(c.Request.Context(), c.Param("name"), models.TriggerAPI)
	if err != nil {
		if errors.Is(err, scheduler.ErrUnknownFlow) {
			c.JSON(http.StatusNotFound, gin.H{"error": "flow not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to queue trigger"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message":    "flow triggered",
		"flow":       trigger.Flow,
		"trigger_id": trigger.ID,
	})
}

func (s *Server) flowToResponse(flow models.Flow) FlowResponse {
	resp := FlowResponse{
		Name:     flow.Name,
		Gate:     flow.Gate(),
		Steps:    flow.Steps,
		Schedule: flow.Schedule.String(),
	}
	if next, ok := s.scheduler.Next(flow.Name); ok {
		resp.NextRunAt = &next
	}
	return resp
}
