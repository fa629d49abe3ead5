package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/sopkit/sopkit/internal/platform/kv"
)

func newTestHandler(t *testing.T) (*Handler, *Service, *echo.Echo) {
	t.Helper()
	svc := NewService(newTestRegistry(t), NewStore(kv.NewMemoryStore()), zerolog.Nop())
	return NewHandler(svc), svc, echo.New()
}

func TestHandler_List(t *testing.T) {
	h, _, e := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/lookups/payer-groups", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("kind")
	c.SetParamValues("payer-groups")

	if err := h.List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var tags []*Tag
	json.Unmarshal(rec.Body.Bytes(), &tags)
	if len(tags) != 1 || tags[0].Tag != "@BCBS" {
		t.Errorf("expected [@BCBS], got %+v", tags)
	}
}

func TestHandler_List_BadKind(t *testing.T) {
	h, _, e := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/lookups/modifiers", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("kind")
	c.SetParamValues("modifiers")

	err := h.List(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_CreateIsPendingReview(t *testing.T) {
	h, _, e := newTestHandler(t)
	body := `{"tag":"@AETNA","name":"Aetna","created_by":"SYSTEM","usage_count":9}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/lookups/payer_group", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("kind")
	c.SetParamValues("payer_group")

	if err := h.Create(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var tag Tag
	json.Unmarshal(rec.Body.Bytes(), &tag)
	if tag.Status != StatusPendingReview {
		t.Errorf("expected PENDING_REVIEW, got %s", tag.Status)
	}
	if tag.CreatedBy != CreatedByUser {
		t.Errorf("expected API-created tag to be USER, got %s", tag.CreatedBy)
	}
	if tag.UsageCount != 0 {
		t.Errorf("expected usage count reset, got %d", tag.UsageCount)
	}
}

func TestHandler_DeleteInUse(t *testing.T) {
	h, svc, e := newTestHandler(t)
	svc.RecordUsage(context.Background(), []Ref{{Kind: KindPayerGroup, Tag: "@BCBS"}}, 1)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/lookups/payer_group/@BCBS", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("kind", "tag")
	c.SetParamValues("payer_group", "@BCBS")

	err := h.Delete(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %v", err)
	}
}

func TestHandler_CanDelete(t *testing.T) {
	h, _, e := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/lookups/payer_group/@BCBS/can-delete", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("kind", "tag")
	c.SetParamValues("payer_group", "@BCBS")

	if err := h.CanDelete(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var check DeleteCheck
	json.Unmarshal(rec.Body.Bytes(), &check)
	if !check.CanDelete {
		t.Errorf("expected deletable, got %+v", check)
	}
}

func TestHandler_Deprecate(t *testing.T) {
	h, svc, e := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/lookups/payer_group/@BCBS/deprecate", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("kind", "tag")
	c.SetParamValues("payer_group", "@BCBS")

	if err := h.Deprecate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, _ := svc.Registry().Get(KindPayerGroup, "@BCBS"); got.Status != StatusDeprecated {
		t.Errorf("expected DEPRECATED, got %s", got.Status)
	}
}

func TestService_PromotePersists(t *testing.T) {
	ctx := context.Background()
	backing := kv.NewMemoryStore()
	svc := NewService(NewRegistry(), NewStore(backing), zerolog.Nop())

	if _, err := svc.Create(ctx, &Tag{Kind: KindPayerGroup, Tag: "@HUMANA", Name: "Humana"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Promote(ctx, KindPayerGroup, "@HUMANA"); err != nil {
		t.Fatalf("promote: %v", err)
	}

	restored := NewRegistry()
	if _, err := NewStore(backing).Load(ctx, restored); err != nil {
		t.Fatalf("load: %v", err)
	}
	tag, ok := restored.Get(KindPayerGroup, "@HUMANA")
	if !ok || tag.Status != StatusActive {
		t.Errorf("expected persisted ACTIVE tag, got %+v", tag)
	}
}
