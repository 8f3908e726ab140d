package webhook

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/caseflow/caseflow/internal/platform/auth"
)

// Handler exposes endpoint registration and the delivery log.
type Handler struct {
	manager *Manager
	store   Store
}

func NewHandler(manager *Manager, store Store) *Handler {
	return &Handler{manager: manager, store: store}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	manage := auth.RequireRole(auth.RoleZonalHead)
	g.POST("/webhooks", h.create, manage)
	g.GET("/webhooks", h.list, manage)
	g.GET("/webhooks/:id", h.get, manage)
	g.DELETE("/webhooks/:id", h.delete, manage)
	g.GET("/webhooks/:id/deliveries", h.deliveries, manage)
}

type createEndpointRequest struct {
	URL    string   `json:"url"`
	Secret string   `json:"secret"`
	Events []string `json:"events"`
}

func (h *Handler) create(c echo.Context) error {
	var req createEndpointRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ep := &Endpoint{URL: req.URL, Secret: req.Secret, Events: req.Events}
	if err := h.manager.Register(c.Request().Context(), ep); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	// The secret is returned once, on creation.
	return c.JSON(http.StatusCreated, ep)
}

func (h *Handler) list(c echo.Context) error {
	endpoints, err := h.store.ListEndpoints(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	for _, ep := range endpoints {
		ep.Secret = ""
	}
	return c.JSON(http.StatusOK, endpoints)
}

func (h *Handler) get(c echo.Context) error {
	ep, err := h.store.GetEndpoint(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "endpoint not found")
	}
	ep.Secret = ""
	return c.JSON(http.StatusOK, ep)
}

func (h *Handler) delete(c echo.Context) error {
	if err := h.store.DeleteEndpoint(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "endpoint not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) deliveries(c echo.Context) error {
	if _, err := h.store.GetEndpoint(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "endpoint not found")
	}
	deliveries, err := h.store.ListDeliveries(c.Request().Context(), c.Param("id"), 100)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, deliveries)
}
