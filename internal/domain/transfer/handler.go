package transfer

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/caseflow/caseflow/internal/domain/consult"
	"github.com/caseflow/caseflow/internal/platform/auth"
	"github.com/caseflow/caseflow/pkg/pagination"
)

type Handler struct {
	co *Coordinator
}

func NewHandler(co *Coordinator) *Handler {
	return &Handler{co: co}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	manage := api.Group("", auth.RequireRole(auth.RoleTeamLead, auth.RoleZonalHead))
	manage.POST("/transfers", h.Transfer)
	manage.POST("/transfers/bulk", h.BulkTransfer)
	manage.GET("/people/:id/transfers", h.PersonHistory)

	read := api.Group("", auth.RequireRole(
		auth.RoleNurse, auth.RoleDoctor, auth.RolePharmacist,
		auth.RoleTeamLead, auth.RoleZonalHead))
	read.GET("/cases/:id/transfers", h.CaseHistory)
}

func (h *Handler) Transfer(c echo.Context) error {
	var req Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ev, err := h.co.Transfer(c.Request().Context(), req,
		auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return transferError(err)
	}
	return c.JSON(http.StatusCreated, ev)
}

func (h *Handler) BulkTransfer(c echo.Context) error {
	var req BulkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	evs, err := h.co.BulkTransfer(c.Request().Context(), req,
		auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return transferError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"transferred": len(evs),
		"events":      evs,
	})
}

func (h *Handler) CaseHistory(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	evs, err := h.co.History(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, evs)
}

func (h *Handler) PersonHistory(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pg := pagination.FromContext(c)
	evs, total, err := h.co.PersonHistory(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(evs, total, pg.Limit, pg.Offset))
}

func transferError(err error) error {
	var capErr *CapacityExceededError
	switch {
	case errors.As(err, &capErr):
		return echo.NewHTTPError(http.StatusConflict, map[string]interface{}{
			"message": capErr.Error(),
			"deficit": capErr.Deficit(),
		})
	case errors.Is(err, ErrStaleReference):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, consult.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "case not found")
	case errors.Is(err, consult.ErrTerminal):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}
