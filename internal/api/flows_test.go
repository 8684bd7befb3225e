package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/velora-auto/trunkline/backend/internal/auth"
	"github.com/velora-auto/trunkline/backend/internal/storage"
	"github.com/velora-auto/trunkline/backend/internal/types"
)

func authed(r *http.Request, tenantID, role string) *http.Request {
	claims := &auth.Claims{TenantID: tenantID, Role: role, Email: "test@dealer.example.com"}
	return r.WithContext(context.WithValue(r.Context(), auth.UserContextKey, claims))
}

func flowsRouter(store *storage.MemoryStore) chi.Router {
	h := NewFlowsHandler(store, nil, zerolog.Nop())
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

const validFlowBody = `{
	"name": "main",
	"steps": [
		{"id": "g", "type": "greeting", "greeting": {"message": {"kind": "text", "text": "Welcome"}}},
		{"id": "end", "type": "hangup"}
	]
}`

func TestPutFlowPersists(t *testing.T) {
	store := storage.NewMemoryStore()
	router := flowsRouter(store)

	req := httptest.NewRequest(http.MethodPut, "/flows/l1", strings.NewReader(validFlowBody))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authed(req, "t1", "admin"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	def, err := store.GetFlowForLine(context.Background(), "t1", "l1")
	if err != nil {
		t.Fatalf("flow not persisted: %v", err)
	}
	if def.Name != "main" || len(def.Steps) != 2 {
		t.Errorf("bad stored flow: %+v", def)
	}
	if def.TenantID != "t1" {
		t.Errorf("tenant must come from the token, got %s", def.TenantID)
	}
}

func TestPutFlowForbiddenForViewer(t *testing.T) {
	router := flowsRouter(storage.NewMemoryStore())

	req := httptest.NewRequest(http.MethodPut, "/flows/l1", strings.NewReader(validFlowBody))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authed(req, "t1", "viewer"))

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestPutFlowUnauthorized(t *testing.T) {
	router := flowsRouter(storage.NewMemoryStore())

	req := httptest.NewRequest(http.MethodPut, "/flows/l1", strings.NewReader(validFlowBody))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestPutFlowRejectsInvalid(t *testing.T) {
	router := flowsRouter(storage.NewMemoryStore())

	body := `{"name": "bad", "steps": [
		{"id": "end", "type": "hangup"},
		{"id": "after", "type": "greeting", "greeting": {"message": {"kind": "text", "text": "x"}}}
	]}`
	req := httptest.NewRequest(http.MethodPut, "/flows/l1", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authed(req, "t1", "admin"))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp["error"] == "" {
		t.Errorf("expected an error payload: %s", rec.Body.String())
	}
}

func TestGetFlow(t *testing.T) {
	store := storage.NewMemoryStore()
	_ = store.PutFlow(context.Background(), &types.FlowDefinition{
		TenantID: "t1", LineID: "l1", Name: "main",
	})
	router := flowsRouter(store)

	req := httptest.NewRequest(http.MethodGet, "/flows/l1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authed(req, "t1", "viewer"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}

	// Another tenant must not see it
	req = httptest.NewRequest(http.MethodGet, "/flows/l1", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authed(req, "t2", "admin"))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for other tenant, got %d", rec.Code)
	}
}

func TestValidateEndpoint(t *testing.T) {
	router := flowsRouter(storage.NewMemoryStore())

	req := httptest.NewRequest(http.MethodPost, "/flows/validate", strings.NewReader(validFlowBody))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authed(req, "t1", "viewer"))

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %s", rec.Body.String())
	}
	if resp["valid"] != true {
		t.Errorf("expected valid flow: %v", resp)
	}

	dup := `{"steps": [
		{"id": "a", "type": "hangup"},
		{"id": "a", "type": "hangup"}
	]}`
	req = httptest.NewRequest(http.MethodPost, "/flows/validate", strings.NewReader(dup))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authed(req, "t1", "viewer"))

	resp = nil
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["valid"] != false || resp["error"] == "" {
		t.Errorf("expected invalid with error: %v", resp)
	}
}
