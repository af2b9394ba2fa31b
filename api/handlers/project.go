// Package handlers provides HTTP API request handlers.
package handlers

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/workspace-hub/backend/internal/model"
	"github.com/workspace-hub/backend/internal/store"
)

// ProjectHandler handles HTTP requests for project and workspace management.
type ProjectHandler struct {
	store       *store.Store
	projectsDir string
}

// NewProjectHandler creates a new ProjectHandler.
func NewProjectHandler(st *store.Store, projectsDir string) *ProjectHandler {
	return &ProjectHandler{
		store:       st,
		projectsDir: projectsDir,
	}
}

// createRequest is the request body for creating a project or workspace.
type createRequest struct {
	Name string `json:"name"`
}

// sendError sends an error response with the given status code.
func sendError(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{"error": message})
}

// List handles GET /api/projects - lists all projects and their workspaces.
func (h *ProjectHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"projects": h.store.Projects()})
}

// Create handles POST /api/projects - creates a project and its directory.
func (h *ProjectHandler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "Invalid request body.")
		return
	}

	if !model.ValidName(req.Name) {
		sendError(c, http.StatusBadRequest, "Invalid project name. Use only letters, numbers, hyphens and underscores.")
		return
	}

	if h.store.HasProject(req.Name) {
		sendError(c, http.StatusConflict, "Project already exists.")
		return
	}

	projectPath := filepath.Join(h.projectsDir, req.Name)
	if err := os.MkdirAll(projectPath, 0755); err != nil {
		sendError(c, http.StatusInternalServerError, "Could not create the project.")
		return
	}

	if err := h.store.CreateProject(c.Request.Context(), req.Name); err != nil {
		if errors.Is(err, model.ErrProjectExists) {
			sendError(c, http.StatusConflict, "Project already exists.")
			return
		}
		sendError(c, http.StatusInternalServerError, "Could not create the project.")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"name": req.Name})
}

// CreateWorkspace handles POST /api/projects/:project/workspaces.
func (h *ProjectHandler) CreateWorkspace(c *gin.Context) {
	project := c.Param("project")
	if !h.store.HasProject(project) {
		sendError(c, http.StatusNotFound, "Project not found.")
		return
	}

	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "Invalid request body.")
		return
	}

	if !model.ValidName(req.Name) {
		sendError(c, http.StatusBadRequest, "Invalid workspace name.")
		return
	}

	if err := h.store.CreateWorkspace(c.Request.Context(), project, req.Name); err != nil {
		switch {
		case errors.Is(err, model.ErrProjectNotFound):
			sendError(c, http.StatusNotFound, "Project not found.")
		case errors.Is(err, model.ErrWorkspaceExists):
			sendError(c, http.StatusConflict, "Workspace already exists.")
		default:
			sendError(c, http.StatusInternalServerError, "Could not create the workspace.")
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"name": req.Name})
}

// GetWorkspace handles GET /api/projects/:project/workspaces/:workspace -
// returns the workspace's full message log.
func (h *ProjectHandler) GetWorkspace(c *gin.Context) {
	project := c.Param("project")
	workspace := c.Param("workspace")

	if !h.store.HasProject(project) {
		sendError(c, http.StatusNotFound, "Project not found.")
		return
	}
	if !h.store.HasWorkspace(project, workspace) {
		sendError(c, http.StatusNotFound, "Workspace not found.")
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": h.store.Messages(project, workspace)})
}

// RegisterRoutes registers the project handler routes on a Gin router group.
func (h *ProjectHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/projects", h.List)
	rg.POST("/projects", h.Create)
	rg.POST("/projects/:project/workspaces", h.CreateWorkspace)
	rg.GET("/projects/:project/workspaces/:workspace", h.GetWorkspace)
}
