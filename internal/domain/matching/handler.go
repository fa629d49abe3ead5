package matching

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/sopkit/sopkit/internal/domain/lookup"
)

// Handler exposes the matcher over HTTP.
type Handler struct {
	m *Matcher
}

func NewHandler(m *Matcher) *Handler {
	return &Handler{m: m}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/match")
	g.POST("/code-group", h.kind(lookup.KindCodeGroup))
	g.POST("/payer-group", h.kind(lookup.KindPayerGroup))
	g.POST("/provider-group", h.kind(lookup.KindProviderGroup))
	g.POST("/action-tag", h.kind(lookup.KindActionTag))
}

type matchRequest struct {
	Text  string   `json:"text"`
	Codes []string `json:"codes,omitempty"`
}

type matchResponse struct {
	Result
	Trusted bool `json:"trusted"`
}

func (h *Handler) kind(kind lookup.Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req matchRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		if strings.TrimSpace(req.Text) == "" && len(req.Codes) == 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "text or codes is required")
		}
		res := h.m.Match(kind, req.Text, req.Codes)
		return c.JSON(http.StatusOK, matchResponse{Result: res, Trusted: res.Trusted()})
	}
}
