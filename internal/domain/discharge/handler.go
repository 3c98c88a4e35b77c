package discharge

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/discharge-predict/internal/platform/fhir"
	"github.com/ehr/discharge-predict/internal/platform/middleware"
)

const invalidFetchInput = "Invalid input format. Expected a JSON with a 'patient_id' key."

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts POST /fetchDischarge on api and, when documents are
// stored locally, GET /DocumentReference/:id on fhirGroup.
func (h *Handler) RegisterRoutes(api *echo.Group, fhirGroup *echo.Group) {
	api.POST("/fetchDischarge", h.FetchDischarge)
	if fhirGroup != nil {
		if _, ok := h.svc.repo.(DocumentRepository); ok {
			fhirGroup.GET("/DocumentReference/:id", h.GetDocumentReferenceFHIR)
		}
	}
}

type fetchRequest struct {
	PatientID *string `json:"patient_id"`
}

type fetchResponse struct {
	DischargeSummaries []string `json:"discharge_summaries"`
}

func (h *Handler) FetchDischarge(c echo.Context) error {
	var req fetchRequest
	if err := c.Bind(&req); err != nil || req.PatientID == nil {
		if he, ok := middleware.TooLarge(err); ok {
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, invalidFetchInput)
	}
	patientID := strings.TrimSpace(*req.PatientID)
	if patientID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id must not be blank")
	}

	items, err := h.svc.Fetch(c.Request().Context(), patientID)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("No discharge summary found for patient %s", patientID))
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway,
			fmt.Sprintf("failed to retrieve discharge summary: %v", err)).SetInternal(err)
	}

	resp := fetchResponse{DischargeSummaries: make([]string, len(items))}
	for i, it := range items {
		resp.DischargeSummaries[i] = it.Text
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetDocumentReferenceFHIR(c echo.Context) error {
	d, err := h.svc.Document(c.Request().Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		return c.JSON(http.StatusNotFound, fhir.NewOperationOutcome("error", "not-found",
			fmt.Sprintf("DocumentReference/%s not found", c.Param("id"))))
	}
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentType, fhir.MediaType)
	return c.JSON(http.StatusOK, d.ToFHIR())
}
