package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Scarmonit/a2a/internal/agent/registry"
	apperrors "github.com/Scarmonit/a2a/internal/common/errors"
	"github.com/Scarmonit/a2a/internal/common/logger"
	"github.com/Scarmonit/a2a/internal/orchestrator"
	v1 "github.com/Scarmonit/a2a/pkg/api/v1"
)

// Handlers carries the dependencies of the REST surface.
type Handlers struct {
	orch     *orchestrator.Orchestrator
	registry *registry.Registry
	logger   *logger.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(orch *orchestrator.Orchestrator, reg *registry.Registry, log *logger.Logger) *Handlers {
	return &Handlers{orch: orch, registry: reg, logger: log}
}

// SubmitTask handles POST /api/v1/tasks.
func (h *Handlers) SubmitTask(c *gin.Context) {
	var req v1.TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.Wrap(apperrors.KindInvalid, "malformed request body", err))
		return
	}
	resp, err := h.orch.Submit(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

// ListTasks handles GET /api/v1/tasks. ?scope=history&n=20 lists retained
// terminal tasks; the default lists active ones.
func (h *Handlers) ListTasks(c *gin.Context) {
	if c.Query("scope") == "history" {
		n, _ := strconv.Atoi(c.DefaultQuery("n", "0"))
		c.JSON(http.StatusOK, gin.H{"tasks": h.orch.RecentHistory(n)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": h.orch.ListActive()})
}

// GetTask handles GET /api/v1/tasks/:id.
func (h *Handlers) GetTask(c *gin.Context) {
	exec, err := h.orch.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, exec)
}

// CancelTask handles POST /api/v1/tasks/:id/cancel.
func (h *Handlers) CancelTask(c *gin.Context) {
	resp, err := h.orch.Cancel(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListAgents handles GET /api/v1/agents with filter query parameters.
func (h *Handlers) ListAgents(c *gin.Context) {
	filter := v1.AgentFilter{
		Category:    c.Query("category"),
		Tag:         c.Query("tag"),
		Query:       c.Query("q"),
		EnabledOnly: c.Query("enabled") == "true",
	}
	c.JSON(http.StatusOK, gin.H{"agents": h.registry.List(filter)})
}

// GetAgent handles GET /api/v1/agents/:id.
func (h *Handlers) GetAgent(c *gin.Context) {
	desc, err := h.registry.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, desc)
}

// UpdateAgent handles PATCH /api/v1/agents/:id.
func (h *Handlers) UpdateAgent(c *gin.Context) {
	var patch v1.AgentPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		writeError(c, apperrors.Wrap(apperrors.KindInvalid, "malformed request body", err))
		return
	}
	desc, err := h.registry.Update(c.Param("id"), &patch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, desc)
}

// EnableAgent handles POST /api/v1/agents/:id/enable.
func (h *Handlers) EnableAgent(c *gin.Context) {
	h.setEnabled(c, true)
}

// DisableAgent handles POST /api/v1/agents/:id/disable.
func (h *Handlers) DisableAgent(c *gin.Context) {
	h.setEnabled(c, false)
}

func (h *Handlers) setEnabled(c *gin.Context, enabled bool) {
	if err := h.registry.SetEnabled(c.Param("id"), enabled); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": enabled})
}

// RemoveAgent handles DELETE /api/v1/agents/:id. In-flight steps referencing
// the agent complete normally.
func (h *Handlers) RemoveAgent(c *gin.Context) {
	if err := h.registry.Remove(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
