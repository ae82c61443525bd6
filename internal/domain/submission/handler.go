package submission

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/sahl/claims-bridge/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/submit-claim", h.SubmitClaim)
	api.POST("/submit-preauth", h.SubmitPreauth)
	api.GET("/transactions/:uuid", h.GetTransaction)
	api.GET("/transactions", h.ListTransactions)
}

func (h *Handler) SubmitClaim(c echo.Context) error {
	return h.submit(c, RequestTypeClaim)
}

func (h *Handler) SubmitPreauth(c echo.Context) error {
	return h.submit(c, RequestTypePreauth)
}

func (h *Handler) submit(c echo.Context, requestType string) error {
	var req SubmitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.FHIRPayload == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "fhir_payload is required")
	}
	if req.FacilityID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "facility_id is required")
	}

	result, err := h.svc.Submit(c.Request().Context(), requestType, req)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	// Strict terminology rejections surface as 422 so callers can fix the
	// codes and resubmit.
	if result.Status == StatusRejected && result.HTTPStatus != nil && *result.HTTPStatus == http.StatusUnprocessableEntity {
		return c.JSON(http.StatusUnprocessableEntity, result)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) GetTransaction(c echo.Context) error {
	id, err := uuid.Parse(c.Param("uuid"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid transaction uuid")
	}
	tx, err := h.svc.GetTransaction(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "transaction not found")
	}
	return c.JSON(http.StatusOK, tx)
}

func (h *Handler) ListTransactions(c echo.Context) error {
	facilityID, err := pagination.Int64Param(c.QueryParam("facility_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "facility_id is required")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListTransactions(c.Request().Context(), facilityID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
