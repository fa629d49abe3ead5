package rule

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestHandler(t *testing.T) (*Handler, *Service, *echo.Echo) {
	t.Helper()
	svc, _ := newTestService(t)
	return NewHandler(svc), svc, echo.New()
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestHandler_Validate(t *testing.T) {
	h, _, e := newTestHandler(t)
	c := sampleCandidate()
	c.Code = "@ADD(@25)"
	rec := httptest.NewRecorder()
	ctx := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/rules/validate", mustJSON(t, c)), rec)

	if err := h.Validate(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res Result
	json.Unmarshal(rec.Body.Bytes(), &res)
	if res.IsValid || !hasIssue(res.Errors, "code", "not actions") {
		t.Errorf("expected code error, got %+v", res)
	}
}

func TestHandler_ValidateBatch(t *testing.T) {
	h, _, e := newTestHandler(t)
	bad := sampleCandidate()
	bad.RuleID = "bad"
	rec := httptest.NewRecorder()
	body := mustJSON(t, []Candidate{sampleCandidate(), bad})
	ctx := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/rules/validate-batch", body), rec)

	if err := h.ValidateBatch(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res BatchResult
	json.Unmarshal(rec.Body.Bytes(), &res)
	if len(res.ValidRules) != 1 || len(res.InvalidRules) != 1 {
		t.Errorf("expected 1 valid and 1 invalid, got %+v", res)
	}
}

func TestHandler_InferCodeGroup(t *testing.T) {
	h, _, e := newTestHandler(t)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/match/infer-code-group", `{"codes":["52287","J0585"]}`), rec)

	if err := h.InferCodeGroup(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var inf Inference
	json.Unmarshal(rec.Body.Bytes(), &inf)
	if inf.CodeGroup != "@BOTOX_BLADDER" || inf.Confidence != 1.0 {
		t.Errorf("expected @BOTOX_BLADDER, got %+v", inf)
	}
}

func TestHandler_Create(t *testing.T) {
	h, _, e := newTestHandler(t)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/rules", mustJSON(t, completeCandidate())), rec)

	if err := h.Create(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var resp createResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Rule == nil || resp.Rule.RuleID != "AU-MOD25-0001" {
		t.Errorf("expected created rule, got %+v", resp)
	}
}

func TestHandler_CreateInvalid(t *testing.T) {
	h, _, e := newTestHandler(t)
	c := sampleCandidate()
	c.EffectiveDate = "01/01/2024"
	rec := httptest.NewRecorder()
	ctx := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/rules", mustJSON(t, c)), rec)

	if err := h.Create(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var resp createResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Rule != nil || !hasIssue(resp.Validation.Errors, "effective_date", "YYYY-MM-DD") {
		t.Errorf("expected date error in body, got %+v", resp)
	}
}

func TestHandler_GetNotFound(t *testing.T) {
	h, _, e := newTestHandler(t)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/rules/AU-NONE-0001", nil), rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("AU-NONE-0001")

	err := h.Get(ctx)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestHandler_ListPaginates(t *testing.T) {
	h, svc, e := newTestHandler(t)
	for _, id := range []string{"AU-MOD25-0001", "AU-MOD25-0002", "AU-MOD25-0003"} {
		c := sampleCandidate()
		c.RuleID = id
		if _, _, err := svc.Add(context.Background(), c); err != nil {
			t.Fatal(err)
		}
	}
	rec := httptest.NewRecorder()
	ctx := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/rules?limit=2&offset=2", nil), rec)

	if err := h.List(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Data    []*Rule `json:"data"`
		Total   int     `json:"total"`
		HasMore bool    `json:"has_more"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 3 || len(resp.Data) != 1 || resp.Data[0].RuleID != "AU-MOD25-0003" {
		t.Errorf("unexpected page: %+v", resp)
	}
	if resp.HasMore {
		t.Error("expected the last page")
	}
}

func TestHandler_ApproveAndDelete(t *testing.T) {
	h, svc, e := newTestHandler(t)
	if _, _, err := svc.Add(context.Background(), completeCandidate()); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	ctx := e.NewContext(httptest.NewRequest(http.MethodPost, "/api/v1/rules/AU-MOD25-0001/approve", nil), rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("AU-MOD25-0001")
	if err := h.Approve(ctx); err != nil {
		t.Fatalf("approve: %v", err)
	}
	var r Rule
	json.Unmarshal(rec.Body.Bytes(), &r)
	if r.Status != StatusApproved {
		t.Errorf("expected approved, got %s", r.Status)
	}

	rec = httptest.NewRecorder()
	ctx = e.NewContext(httptest.NewRequest(http.MethodDelete, "/api/v1/rules/AU-MOD25-0001", nil), rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("AU-MOD25-0001")
	if err := h.Delete(ctx); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestHandler_ExtractWithoutExtractor(t *testing.T) {
	h, _, e := newTestHandler(t)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/rules/extract", `{"text":"some policy"}`), rec)

	err := h.Extract(ctx)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %v", err)
	}
}

func TestHandler_ExtractRequiresText(t *testing.T) {
	h, _, e := newTestHandler(t)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/rules/extract", `{"text":"  "}`), rec)

	err := h.Extract(ctx)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_ExportAndImport(t *testing.T) {
	h, svc, e := newTestHandler(t)
	if _, _, err := svc.Add(context.Background(), completeCandidate()); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	ctx := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/rules/export.csv", nil), rec)
	if err := h.Export(ctx); err != nil {
		t.Fatalf("export: %v", err)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("expected text/csv, got %s", ct)
	}
	exported := rec.Body.String()
	if !strings.Contains(exported, "AU-MOD25-0001") {
		t.Fatalf("expected the rule in the export, got %q", exported)
	}

	h2, _, _ := newTestHandler(t)
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/rules/import?sop_id=sop-1", strings.NewReader(exported))
	req.Header.Set(echo.HeaderContentType, "text/csv")
	ctx = e.NewContext(req, rec)
	if err := h2.Import(ctx); err != nil {
		t.Fatalf("import: %v", err)
	}
	var res IngestResult
	json.Unmarshal(rec.Body.Bytes(), &res)
	if len(res.Added) != 1 || res.Added[0].SOPID != "sop-1" {
		t.Errorf("expected one imported rule, got %+v", res)
	}
}
