package lookup

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler provides REST endpoints for the lookup vocabulary.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/lookups")
	g.GET("/:kind", h.List)
	g.POST("/:kind", h.Create)
	g.GET("/:kind/:tag", h.Get)
	g.POST("/:kind/:tag/promote", h.Promote)
	g.POST("/:kind/:tag/deprecate", h.Deprecate)
	g.GET("/:kind/:tag/can-delete", h.CanDelete)
	g.DELETE("/:kind/:tag", h.Delete)
}

func kindParam(c echo.Context) (Kind, error) {
	k, err := ParseKind(c.Param("kind"))
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return k, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicate), errors.Is(err, ErrInUse):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}

// List handles GET /api/v1/lookups/:kind
func (h *Handler) List(c echo.Context) error {
	kind, err := kindParam(c)
	if err != nil {
		return err
	}
	tags := h.svc.List(kind)
	if status := c.QueryParam("status"); status != "" {
		filtered := tags[:0]
		for _, t := range tags {
			if string(t.Status) == status {
				filtered = append(filtered, t)
			}
		}
		tags = filtered
	}
	return c.JSON(http.StatusOK, tags)
}

// Get handles GET /api/v1/lookups/:kind/:tag
func (h *Handler) Get(c echo.Context) error {
	kind, err := kindParam(c)
	if err != nil {
		return err
	}
	t, err := h.svc.Get(kind, c.Param("tag"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

// Create handles POST /api/v1/lookups/:kind
func (h *Handler) Create(c echo.Context) error {
	kind, err := kindParam(c)
	if err != nil {
		return err
	}
	var t Tag
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	t.Kind = kind
	t.UsageCount = 0
	if t.CreatedBy == CreatedBySystem {
		t.CreatedBy = CreatedByUser
	}
	created, err := h.svc.Create(c.Request().Context(), &t)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

// Promote handles POST /api/v1/lookups/:kind/:tag/promote
func (h *Handler) Promote(c echo.Context) error {
	kind, err := kindParam(c)
	if err != nil {
		return err
	}
	t, err := h.svc.Promote(c.Request().Context(), kind, c.Param("tag"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

// Deprecate handles POST /api/v1/lookups/:kind/:tag/deprecate
func (h *Handler) Deprecate(c echo.Context) error {
	kind, err := kindParam(c)
	if err != nil {
		return err
	}
	t, err := h.svc.Deprecate(c.Request().Context(), kind, c.Param("tag"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

// CanDelete handles GET /api/v1/lookups/:kind/:tag/can-delete
func (h *Handler) CanDelete(c echo.Context) error {
	kind, err := kindParam(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.svc.CanDelete(kind, c.Param("tag")))
}

// Delete handles DELETE /api/v1/lookups/:kind/:tag
func (h *Handler) Delete(c echo.Context) error {
	kind, err := kindParam(c)
	if err != nil {
		return err
	}
	if err := h.svc.Remove(c.Request().Context(), kind, c.Param("tag")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
