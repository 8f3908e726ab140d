package assignment

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/caseflow/caseflow/internal/platform/auth"
	"github.com/caseflow/caseflow/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	manage := api.Group("", auth.RequireRole(auth.RoleTeamLead, auth.RoleZonalHead))
	manage.POST("/hierarchies", h.CreateConfig)
	manage.GET("/hierarchies", h.ListConfigs)
	manage.GET("/hierarchies/:id", h.GetConfig)
	manage.PUT("/hierarchies/:id", h.UpdateConfig)
	manage.POST("/hierarchies/:id/activate", h.ActivateConfig)
	manage.DELETE("/hierarchies/:id", h.DeleteConfig)
	manage.POST("/hierarchies/:id/members", h.AddMember)
	manage.DELETE("/hierarchies/:id/members/:mid", h.RemoveMember)
	manage.GET("/assignments/preview", h.Preview)
}

func (h *Handler) CreateConfig(c echo.Context) error {
	var cfg HierarchyConfig
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateConfig(c.Request().Context(), &cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, cfg)
}

func (h *Handler) GetConfig(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	cfg, err := h.svc.GetConfig(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "hierarchy config not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, cfg)
}

func (h *Handler) ListConfigs(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListConfigs(c.Request().Context(), c.QueryParam("role"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateConfig(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var cfg HierarchyConfig
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cfg.ID = id
	if err := h.svc.UpdateConfig(c.Request().Context(), &cfg); err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "hierarchy config not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, cfg)
}

func (h *Handler) ActivateConfig(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.ActivateConfig(c.Request().Context(), id); err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "hierarchy config not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) DeleteConfig(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteConfig(c.Request().Context(), id); err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "hierarchy config not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) AddMember(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var m HierarchyMember
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.AddMember(c.Request().Context(), id, &m); err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "hierarchy config not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) RemoveMember(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	mid, err := uuid.Parse(c.Param("mid"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid member id")
	}
	if err := h.svc.RemoveMember(c.Request().Context(), id, mid); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Preview(c echo.Context) error {
	res, err := h.svc.Preview(c.Request().Context(), c.QueryParam("role"))
	if err != nil {
		if errors.Is(err, ErrNoCandidate) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}
