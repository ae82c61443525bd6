package workflow

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/sahl/claims-bridge/internal/platform/apperrors"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/workflows/start", h.Start)
	api.GET("/workflows", h.List)
	api.GET("/workflows/:id", h.Get)
	api.POST("/workflows/:id/cancel", h.Cancel)
}

type startRequest struct {
	WorkflowType string         `json:"workflow_type"`
	Data         map[string]any `json:"data"`
	Requester    string         `json:"requester"`
}

func (h *Handler) Start(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.WorkflowType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "workflow_type is required")
	}

	id, err := h.service.Start(req.WorkflowType, req.Data, req.Requester)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]any{
		"workflow_id": id,
		"status":      "started",
	})
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid workflow id")
	}
	view, err := h.service.Get(id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) List(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	workflows := h.service.List(c.QueryParam("status"), limit)
	return c.JSON(http.StatusOK, map[string]any{
		"workflows": workflows,
		"count":     len(workflows),
	})
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid workflow id")
	}
	if err := h.service.Cancel(id); err != nil {
		var ae *apperrors.Error
		if errors.As(err, &ae) && ae.Code == "WORKFLOW-NOT-FOUND" {
			return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
		}
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "cancelled"})
}
