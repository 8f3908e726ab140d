package consult

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/caseflow/caseflow/internal/domain/assignment"
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
	read := api.Group("", auth.RequireRole(
		auth.RoleNurse, auth.RoleDoctor, auth.RolePharmacist,
		auth.RoleTeamLead, auth.RoleZonalHead))
	read.GET("/cases", h.ListCases)
	read.GET("/cases/:id", h.GetCase)

	create := api.Group("", auth.RequireRole(auth.RoleNurse, auth.RoleTeamLead, auth.RoleZonalHead))
	create.POST("/cases", h.CreateCase)

	api.POST("/cases/:id/doctor-complete", h.CompleteDoctorLeg,
		auth.RequireRole(auth.RoleDoctor))
	api.POST("/cases/:id/pharmacist-complete", h.CompletePharmacistLeg,
		auth.RequireRole(auth.RolePharmacist))
	api.POST("/cases/:id/incomplete", h.MarkIncomplete,
		auth.RequireRole(auth.RoleTeamLead, auth.RoleZonalHead))
}

func (h *Handler) CreateCase(c echo.Context) error {
	var cs Case
	if err := c.Bind(&cs); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	createdBy := auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.CreateCase(c.Request().Context(), &cs, createdBy); err != nil {
		if errors.Is(err, assignment.ErrNoCandidate) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, caseView(&cs))
}

func (h *Handler) GetCase(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	cs, err := h.svc.GetCase(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "case not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, caseView(cs))
}

func (h *Handler) ListCases(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{Status: c.QueryParam("status")}
	if v := c.QueryParam("assignee_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid assignee_id")
		}
		f.AssigneeID = &id
	}
	items, total, err := h.svc.ListCases(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	views := make([]map[string]interface{}, len(items))
	for i, cs := range items {
		views[i] = caseView(cs)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(views, total, pg.Limit, pg.Offset))
}

func (h *Handler) CompleteDoctorLeg(c echo.Context) error {
	return h.complete(c, h.svc.CompleteDoctorLeg)
}

func (h *Handler) CompletePharmacistLeg(c echo.Context) error {
	return h.complete(c, h.svc.CompletePharmacistLeg)
}

func (h *Handler) complete(c echo.Context, fn func(ctx context.Context, id uuid.UUID, actorID string) (*Case, error)) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	cs, err := fn(ctx, id, auth.UserIDFromContext(ctx))
	if err != nil {
		return completionError(err)
	}
	return c.JSON(http.StatusOK, caseView(cs))
}

type incompleteRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) MarkIncomplete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req incompleteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cs, err := h.svc.MarkIncomplete(c.Request().Context(), id, req.Reason)
	if err != nil {
		return completionError(err)
	}
	return c.JSON(http.StatusOK, caseView(cs))
}

func completionError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "case not found")
	case errors.Is(err, ErrTerminal):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}

// caseView augments the stored row with its derived status.
func caseView(cs *Case) map[string]interface{} {
	return map[string]interface{}{
		"case":   cs,
		"status": cs.Status(),
	}
}
