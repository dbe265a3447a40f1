package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/researchpilot/researchpilot-backend/internal/http/response"
	"github.com/researchpilot/researchpilot-backend/internal/jobstore"
	"github.com/researchpilot/researchpilot-backend/internal/services"
)

type ResearchHandler struct {
	research services.ResearchService
}

func NewResearchHandler(research services.ResearchService) *ResearchHandler {
	return &ResearchHandler{research: research}
}

// POST /api/research
func (h *ResearchHandler) StartResearch(c *gin.Context) {
	var req services.StartResearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	job, err := h.research.StartResearch(c.Request.Context(), req)
	if err != nil {
		response.RespondError(c, startStatus(err), "start_research_failed", err)
		return
	}
	response.RespondAccepted(c, gin.H{"job": job})
}

// POST /api/research/extended
func (h *ResearchHandler) StartExtendedResearch(c *gin.Context) {
	var req services.StartResearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	job, err := h.research.StartExtendedResearch(c.Request.Context(), req)
	if err != nil {
		response.RespondError(c, startStatus(err), "start_research_failed", err)
		return
	}
	response.RespondAccepted(c, gin.H{"job": job})
}

type selectionRequest struct {
	JobID         string   `json:"jobId"`
	SelectedLinks []string `json:"selectedLinks"`
}

// POST /api/research/extended/selection
func (h *ResearchHandler) SubmitSelection(c *gin.Context) {
	var req selectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := h.research.SubmitSelection(c.Request.Context(), req.JobID, req.SelectedLinks); err != nil {
		response.RespondError(c, http.StatusBadRequest, "submit_selection_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"jobId": req.JobID})
}

type cancelRequest struct {
	JobID string `json:"jobId"`
}

// POST /api/research/cancel
func (h *ResearchHandler) Cancel(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := h.research.Cancel(c.Request.Context(), req.JobID); err != nil {
		response.RespondError(c, http.StatusBadRequest, "cancel_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"jobId": req.JobID})
}

// GET /api/research/status/:id
func (h *ResearchHandler) JobStatus(c *gin.Context) {
	jobID := strings.TrimSpace(c.Param("id"))
	job, err := h.research.JobStatus(c.Request.Context(), jobID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "job_status_failed", err)
		return
	}
	if job == nil {
		response.RespondError(c, http.StatusNotFound, "job_not_found", fmt.Errorf("job %s not found", jobID))
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

// POST /api/agent/execute
func (h *ResearchHandler) ExecutePlan(c *gin.Context) {
	var req services.ExecutePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	job, err := h.research.ExecutePlan(c.Request.Context(), req)
	if err != nil {
		response.RespondError(c, startStatus(err), "execute_plan_failed", err)
		return
	}
	response.RespondAccepted(c, gin.H{"job": job})
}

// POST /api/planner
func (h *ResearchHandler) GeneratePlan(c *gin.Context) {
	var req services.GeneratePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	plan, err := h.research.GeneratePlan(c.Request.Context(), req)
	if err != nil {
		response.RespondError(c, http.StatusBadGateway, "generate_plan_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"planSteps": plan})
}

// GET /api/templates
func (h *ResearchHandler) Templates(c *gin.Context) {
	tpls, err := h.research.Templates()
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "templates_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"templates": tpls})
}

func startStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, jobstore.ErrAlreadyExists) {
		return http.StatusConflict
	}
	return http.StatusBadRequest
}
