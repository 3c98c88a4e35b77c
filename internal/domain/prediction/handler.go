package prediction

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/discharge-predict/internal/platform/middleware"
)

const invalidPredictInput = "Invalid input format. Expected a JSON with an 'input' key."

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/getPrediction", h.GetPrediction)
}

type predictRequest struct {
	Input *string `json:"input"`
}

type predictResponse struct {
	Prediction string `json:"prediction"`
}

func (h *Handler) GetPrediction(c echo.Context) error {
	var req predictRequest
	if err := c.Bind(&req); err != nil || req.Input == nil {
		if he, ok := middleware.TooLarge(err); ok {
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, invalidPredictInput)
	}

	label, err := h.svc.Predict(c.Request().Context(), *req.Input)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error()).SetInternal(err)
	}
	return c.JSON(http.StatusOK, predictResponse{Prediction: label})
}
