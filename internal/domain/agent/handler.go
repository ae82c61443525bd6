package agent

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	registry *Registry
}

func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/agents/register", h.Register)
	api.GET("/agents", h.List)
	api.GET("/agents/:name", h.Get)
	api.POST("/agents/:name/heartbeat", h.Heartbeat)
	api.DELETE("/agents/:name", h.Unregister)
}

type registerRequest struct {
	Name         string   `json:"name"`
	CapabilityID string   `json:"capability_id"`
	Capabilities []string `json:"capabilities"`
	Endpoint     string   `json:"endpoint"`
	Port         int      `json:"port"`
}

func (h *Handler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Name == "" || req.Endpoint == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name and endpoint are required")
	}
	info := h.registry.Register(Info{
		Name:         req.Name,
		CapabilityID: req.CapabilityID,
		Capabilities: req.Capabilities,
		Endpoint:     req.Endpoint,
		Port:         req.Port,
	})
	return c.JSON(http.StatusCreated, info)
}

func (h *Handler) List(c echo.Context) error {
	if cap := c.QueryParam("capability"); cap != "" {
		return c.JSON(http.StatusOK, h.registry.FindByCapability(cap))
	}
	return c.JSON(http.StatusOK, h.registry.List())
}

func (h *Handler) Get(c echo.Context) error {
	info, ok := h.registry.Get(c.Param("name"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "agent not found")
	}
	return c.JSON(http.StatusOK, info)
}

func (h *Handler) Heartbeat(c echo.Context) error {
	if !h.registry.UpdateHeartbeat(c.Param("name")) {
		return echo.NewHTTPError(http.StatusNotFound, "agent not found")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Unregister(c echo.Context) error {
	if !h.registry.Unregister(c.Param("name")) {
		return echo.NewHTTPError(http.StatusNotFound, "agent not found")
	}
	return c.NoContent(http.StatusNoContent)
}
