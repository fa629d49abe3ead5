package conflict

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sopkit/sopkit/internal/domain/rule"
)

// Handler provides REST endpoints for conflict analysis and resolution.
type Handler struct {
	resolver *Resolver
}

func NewHandler(resolver *Resolver) *Handler {
	return &Handler{resolver: resolver}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/conflicts")
	g.GET("", h.List)
	g.GET("/resolutions", h.History)
	g.POST("/:id/resolve", h.Resolve)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrStaleConflict), errors.Is(err, rule.ErrDuplicate):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidAction), errors.Is(err, ErrPairRequired), errors.Is(err, ErrMergedRuleRequired):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, rule.ErrInvalid), errors.Is(err, rule.ErrNeedsDefinition):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, rule.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// List handles GET /api/v1/conflicts. ?annotate=true also returns every rule
// with the conflicts that name it.
func (h *Handler) List(c echo.Context) error {
	rep, err := h.resolver.Open(c.Request().Context(), c.QueryParam("annotate") == "true")
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rep)
}

// Resolve handles POST /api/v1/conflicts/:id/resolve
func (h *Handler) Resolve(c echo.Context) error {
	var req ResolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.ConflictID = c.Param("id")
	out, err := h.resolver.Resolve(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

// History handles GET /api/v1/conflicts/resolutions
func (h *Handler) History(c echo.Context) error {
	entries, err := h.resolver.History(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entries)
}
