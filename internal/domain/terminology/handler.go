package terminology

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	catalog *Catalog
}

func NewHandler(catalog *Catalog) *Handler {
	return &Handler{catalog: catalog}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/terminology/systems", h.Systems)
	api.POST("/terminology/lookup", h.Lookup)
	api.POST("/terminology/validate-code", h.ValidateCode)
	api.POST("/terminology/validate-payload", h.ValidatePayload)
}

func (h *Handler) Systems(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"available": h.catalog.Available(),
		"systems":   h.catalog.Systems(),
	})
}

type lookupRequest struct {
	System string `json:"system"`
	Code   string `json:"code"`
}

func (h *Handler) Lookup(c echo.Context) error {
	var req lookupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.System == "" || req.Code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "system and code are required")
	}
	entry, ok := h.catalog.Lookup(req.System, req.Code)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "code not found")
	}
	return c.JSON(http.StatusOK, entry)
}

type validateCodeRequest struct {
	System   string `json:"system"`
	Code     string `json:"code"`
	ValueSet string `json:"value_set,omitempty"`
}

func (h *Handler) ValidateCode(c echo.Context) error {
	var req validateCodeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, h.catalog.ValidateCode(req.System, req.Code, req.ValueSet))
}

type validatePayloadRequest struct {
	FHIRPayload map[string]any `json:"fhir_payload"`
}

func (h *Handler) ValidatePayload(c echo.Context) error {
	var req validatePayloadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.FHIRPayload == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "fhir_payload is required")
	}
	result := h.catalog.ValidatePayloadCodings(req.FHIRPayload)
	return c.JSON(http.StatusOK, map[string]any{
		"summary": map[string]int{
			"checked_count": result.CheckedCount,
			"error_count":   result.ErrorCount,
			"warning_count": result.WarningCount,
		},
		"valid":    result.Valid,
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}
