// Package events serves a workflow's event history and a live stream over
// websocket. History comes from the bus's retained list; the stream replays
// whatever the capped stream still holds and then follows new events until
// the client disconnects.
package events

import (
	"context"
	"net/http"
	"strconv"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/sahl/claims-bridge/internal/platform/eventbus"
)

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // tighten per deployment
	},
}

type Handler struct {
	bus    *eventbus.Bus
	logger zerolog.Logger
}

func NewHandler(bus *eventbus.Bus, logger zerolog.Logger) *Handler {
	return &Handler{bus: bus, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/events/history/:workflow_id", h.History)
	api.GET("/events/stream/:workflow_id", h.Stream)
}

func (h *Handler) History(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}

	workflowID := c.Param("workflow_id")
	events := h.bus.GetEvents(workflowID, limit)
	return c.JSON(http.StatusOK, map[string]any{
		"workflow_id": workflowID,
		"events":      events,
		"count":       len(events),
	})
}

// Stream upgrades to websocket and follows one workflow's events. The
// subscription ends when the client closes the connection or a write
// fails; delivery is best-effort.
func (h *Handler) Stream(c echo.Context) error {
	workflowID := c.Param("workflow_id")

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	// Reads are only watched for the close; any inbound data is discarded.
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	err = h.bus.Subscribe(ctx, workflowID, func(event eventbus.Event) {
		if writeErr := ws.WriteJSON(event); writeErr != nil {
			cancel()
		}
	})
	if err != nil && ctx.Err() == nil {
		h.logger.Warn().Err(err).
			Str("workflow_id", workflowID).
			Msg("event stream ended unexpectedly")
	}
	return nil
}
