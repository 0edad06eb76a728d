// Package statusapi exposes the control plane's state as read-only JSON
// over HTTP (spec.md §4.8): workflow, material, and calculation status
// for dashboards and monitoring scripts. Grounded on the teacher's Gin
// router and route-group layout in server.go, trimmed to GET-only
// handlers — this surface never mutates state, so there is no
// equivalent of the teacher's document CRUD routes.
package statusapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lewis-group/crystalmace/models"
)

// Store is the subset of store.Store the status server reads from.
type Store interface {
	GetWorkflowInstance(id string) (models.WorkflowInstance, error)
	ListActiveWorkflowInstances() ([]models.WorkflowInstance, error)
	GetPlan(id string) (models.WorkflowPlan, error)
	GetMaterial(id string) (models.Material, error)
	ListByWorkflowMaterial(workflowID, materialID string) ([]models.Calculation, error)
	GetCalculation(id string) (models.Calculation, error)
	ListPropertiesForMaterial(materialID string) ([]models.Property, error)
	ListFiles(calculationID string) ([]models.FileArtifact, error)
}

// Server wires Store-backed handlers onto a Gin engine.
type Server struct {
	Store Store
}

// New builds a Server over store.
func New(store Store) *Server {
	return &Server{Store: store}
}

// Router returns a configured Gin engine. Callers are responsible for
// calling gin.SetMode before constructing it if a mode other than the
// package default is desired.
func (s *Server) Router() *gin.Engine {
	r := gin.Default()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "mace-status"})
	})

	api := r.Group("/api")
	{
		workflows := api.Group("/workflows")
		{
			workflows.GET("", s.listWorkflows)
			workflows.GET("/:id", s.getWorkflow)
			workflows.GET("/:id/materials/:material_id", s.getMaterialInWorkflow)
		}
		api.GET("/materials/:id/properties", s.getMaterialProperties)
		api.GET("/calculations/:id", s.getCalculation)
		api.GET("/calculations/:id/files", s.getCalculationFiles)
	}
	return r
}

func (s *Server) listWorkflows(c *gin.Context) {
	instances, err := s.Store.ListActiveWorkflowInstances()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflows": instances})
}

func (s *Server) getWorkflow(c *gin.Context) {
	id := c.Param("id")
	wi, err := s.Store.GetWorkflowInstance(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
		return
	}
	plan, err := s.Store.GetPlan(wi.PlanID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflow": wi, "plan": plan})
}

func (s *Server) getMaterialInWorkflow(c *gin.Context) {
	workflowID := c.Param("id")
	materialID := c.Param("material_id")

	material, err := s.Store.GetMaterial(materialID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "material not found"})
		return
	}
	calcs, err := s.Store.ListByWorkflowMaterial(workflowID, materialID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"material": material, "calculations": calcs})
}

func (s *Server) getMaterialProperties(c *gin.Context) {
	id := c.Param("id")
	props, err := s.Store.ListPropertiesForMaterial(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"material_id": id, "properties": props})
}

func (s *Server) getCalculation(c *gin.Context) {
	id := c.Param("id")
	calc, err := s.Store.GetCalculation(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "calculation not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calculation": calc})
}

func (s *Server) getCalculationFiles(c *gin.Context) {
	id := c.Param("id")
	files, err := s.Store.ListFiles(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calculation_id": id, "files": files})
}
