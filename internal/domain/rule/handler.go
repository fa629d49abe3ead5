package rule

import (
	"bytes"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/sopkit/sopkit/pkg/pagination"
)

// Handler provides REST endpoints for rules.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/rules")
	g.POST("/validate", h.Validate)
	g.POST("/validate-batch", h.ValidateBatch)
	g.POST("/enhance", h.Enhance)
	g.POST("/extract", h.Extract)
	g.GET("/export.csv", h.Export)
	g.POST("/import", h.Import)
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/approve", h.Approve)
	g.POST("/:id/reject", h.Reject)

	api.POST("/match/infer-code-group", h.InferCodeGroup)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicate), errors.Is(err, ErrSOPInactive):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalid), errors.Is(err, ErrNeedsDefinition):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrExtractorUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, ErrExtraction):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// Validate handles POST /api/v1/rules/validate
func (h *Handler) Validate(c echo.Context) error {
	var cand Candidate
	if err := c.Bind(&cand); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return c.JSON(http.StatusOK, h.svc.Validator().Validate(cand))
}

// ValidateBatch handles POST /api/v1/rules/validate-batch
func (h *Handler) ValidateBatch(c echo.Context) error {
	var cands []Candidate
	if err := c.Bind(&cands); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return c.JSON(http.StatusOK, h.svc.Validator().ValidateBatch(cands))
}

// Enhance handles POST /api/v1/rules/enhance
func (h *Handler) Enhance(c echo.Context) error {
	var cands []Candidate
	if err := c.Bind(&cands); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return c.JSON(http.StatusOK, h.svc.Inferencer().EnhanceRules(cands))
}

type inferRequest struct {
	Codes []string `json:"codes"`
}

// InferCodeGroup handles POST /api/v1/match/infer-code-group
func (h *Handler) InferCodeGroup(c echo.Context) error {
	var req inferRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return c.JSON(http.StatusOK, h.svc.Inferencer().AutoPopulateCodeGroup(req.Codes))
}

type extractRequest struct {
	Text  string `json:"text"`
	SOPID string `json:"sop_id"`
}

// Extract handles POST /api/v1/rules/extract
func (h *Handler) Extract(c echo.Context) error {
	var req extractRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}
	res, err := h.svc.Ingest(c.Request().Context(), req.Text, req.SOPID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

type createResponse struct {
	Rule       *Rule  `json:"rule,omitempty"`
	Validation Result `json:"validation"`
}

// Create handles POST /api/v1/rules. Invalid candidates come back as 422
// with the validation result as the body.
func (h *Handler) Create(c echo.Context) error {
	var cand Candidate
	if err := c.Bind(&cand); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	cand.Source = SourceManual
	r, res, err := h.svc.Add(c.Request().Context(), cand)
	if errors.Is(err, ErrInvalid) {
		return c.JSON(http.StatusUnprocessableEntity, createResponse{Validation: res})
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, createResponse{Rule: r, Validation: res})
}

// List handles GET /api/v1/rules
func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	rules, err := h.svc.List(c.Request().Context(), ListFilter{
		SOPID:  c.QueryParam("sop_id"),
		Status: Status(c.QueryParam("status")),
	})
	if err != nil {
		return httpError(err)
	}
	page := pagination.Slice(rules, pg)
	return c.JSON(http.StatusOK, pagination.NewResponse(page, len(rules), pg.Limit, pg.Offset))
}

// Get handles GET /api/v1/rules/:id
func (h *Handler) Get(c echo.Context) error {
	r, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

// Delete handles DELETE /api/v1/rules/:id
func (h *Handler) Delete(c echo.Context) error {
	if err := h.svc.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Approve handles POST /api/v1/rules/:id/approve
func (h *Handler) Approve(c echo.Context) error {
	r, err := h.svc.Approve(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

// Reject handles POST /api/v1/rules/:id/reject
func (h *Handler) Reject(c echo.Context) error {
	r, err := h.svc.Reject(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

// Export handles GET /api/v1/rules/export.csv. ?gzip=true compresses the body.
func (h *Handler) Export(c echo.Context) error {
	compress := c.QueryParam("gzip") == "true"
	var buf bytes.Buffer
	if err := h.svc.Export(c.Request().Context(), &buf, compress); err != nil {
		return httpError(err)
	}
	contentType, filename := "text/csv; charset=utf-8", "rules.csv"
	if compress {
		contentType, filename = "application/gzip", "rules.csv.gz"
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	return c.Blob(http.StatusOK, contentType, buf.Bytes())
}

// Import handles POST /api/v1/rules/import with a CSV (or gzipped CSV) body.
func (h *Handler) Import(c echo.Context) error {
	res, err := h.svc.Import(c.Request().Context(), c.Request().Body, c.QueryParam("sop_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}
