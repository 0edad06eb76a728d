package statusapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/lewis-group/crystalmace/models"
)

type fakeStore struct {
	instances []models.WorkflowInstance
	plans     map[string]models.WorkflowPlan
	materials map[string]models.Material
	calcs     map[string]models.Calculation
	byMaterial map[string][]models.Calculation
	properties map[string][]models.Property
	files      map[string][]models.FileArtifact
}

func (f *fakeStore) GetWorkflowInstance(id string) (models.WorkflowInstance, error) {
	for _, wi := range f.instances {
		if wi.ID == id {
			return wi, nil
		}
	}
	return models.WorkflowInstance{}, http.ErrNoLocation
}

func (f *fakeStore) ListActiveWorkflowInstances() ([]models.WorkflowInstance, error) {
	return f.instances, nil
}

func (f *fakeStore) GetPlan(id string) (models.WorkflowPlan, error) {
	return f.plans[id], nil
}

func (f *fakeStore) GetMaterial(id string) (models.Material, error) {
	m, ok := f.materials[id]
	if !ok {
		return models.Material{}, http.ErrNoLocation
	}
	return m, nil
}

func (f *fakeStore) ListByWorkflowMaterial(workflowID, materialID string) ([]models.Calculation, error) {
	return f.byMaterial[materialID], nil
}

func (f *fakeStore) GetCalculation(id string) (models.Calculation, error) {
	c, ok := f.calcs[id]
	if !ok {
		return models.Calculation{}, http.ErrNoLocation
	}
	return c, nil
}

func (f *fakeStore) ListPropertiesForMaterial(materialID string) ([]models.Property, error) {
	return f.properties[materialID], nil
}

func (f *fakeStore) ListFiles(calculationID string) ([]models.FileArtifact, error) {
	return f.files[calculationID], nil
}

func init() {
	gin.SetMode(gin.TestMode)
}

func TestHealthEndpoint(t *testing.T) {
	srv := New(&fakeStore{})
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "healthy")
}

func TestGetWorkflowReturnsPlan(t *testing.T) {
	store := &fakeStore{
		instances: []models.WorkflowInstance{{ID: "wf1", PlanID: "plan1"}},
		plans:     map[string]models.WorkflowPlan{"plan1": {ID: "plan1", InputType: "cif"}},
	}
	srv := New(store)
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/workflows/wf1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "\"input_type\":\"cif\"")
}

func TestGetWorkflowMissingReturns404(t *testing.T) {
	srv := New(&fakeStore{})
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/workflows/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetMaterialProperties(t *testing.T) {
	energy := 1.5
	store := &fakeStore{
		properties: map[string][]models.Property{
			"mat1": {{CalculationID: "calc1", Name: "total_energy", ScalarValue: &energy}},
		},
	}
	srv := New(store)
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/materials/mat1/properties", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "total_energy")
}

func TestGetCalculationFiles(t *testing.T) {
	store := &fakeStore{
		files: map[string][]models.FileArtifact{
			"calc1": {{ID: "f1", CalculationID: "calc1", Kind: models.FileSolverOutput}},
		},
	}
	srv := New(store)
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/calculations/calc1/files", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "solver_output")
}
