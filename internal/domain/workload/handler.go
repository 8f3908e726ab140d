package workload

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/caseflow/caseflow/internal/platform/auth"
)

type Handler struct {
	cases      CaseSource
	roster     Roster
	accountant *Accountant
}

func NewHandler(cases CaseSource, roster Roster, accountant *Accountant) *Handler {
	return &Handler{cases: cases, roster: roster, accountant: accountant}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	manage := api.Group("", auth.RequireRole(auth.RoleTeamLead, auth.RoleZonalHead))
	manage.GET("/workload", h.GetReport)
	manage.GET("/workload/export", h.ExportReport)
	manage.POST("/workload/recompute", h.Recompute)
}

func (h *Handler) GetReport(c echo.Context) error {
	report, err := BuildReport(c.Request().Context(), h.cases, h.roster)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) ExportReport(c echo.Context) error {
	report, err := BuildReport(c.Request().Context(), h.cases, h.roster)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	filename := fmt.Sprintf("workload-%s.xlsx", time.Now().Format("2006-01-02"))
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	c.Response().Header().Set(echo.HeaderContentType,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Response().WriteHeader(http.StatusOK)
	return WriteExcel(report, c.Response())
}

// Recompute forces an immediate refresh outside the debounce, for
// operators who just changed the roster.
func (h *Handler) Recompute(c echo.Context) error {
	if err := h.accountant.Recompute(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusAccepted)
}
