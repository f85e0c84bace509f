package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/comfortage/dataintegrity/internal/chain"
	"github.com/comfortage/dataintegrity/internal/fingerprint"
	"github.com/comfortage/dataintegrity/internal/identity"
	"github.com/comfortage/dataintegrity/internal/integrity/handler"
	"github.com/comfortage/dataintegrity/internal/integrity/model"
	"github.com/comfortage/dataintegrity/internal/integrity/service"
	"github.com/comfortage/dataintegrity/internal/session"
)

var (
	fpA = fingerprint.MustParse(strings.Repeat("aa", 32))
	fpB = fingerprint.MustParse(strings.Repeat("bb", 32))
)

type testEnv struct {
	router *gin.Engine
	tokens *identity.TokenIssuer
}

// setupRouter wires the full stack over a memory backend: admin-1 is the
// genesis admin, ingester-1 and validator-1 are pre-granted.
func setupRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	backend := chain.NewMemoryBackend("admin-1")
	sess := session.New(backend, zap.NewNop())
	ledger := service.NewLedger(backend, sess, zap.NewNop())
	roles := service.NewRoleRegistry(backend, sess, zap.NewNop())

	ctx := context.Background()
	if err := roles.Grant(ctx, "admin-1", "ingester-1", model.CapIngester); err != nil {
		t.Fatal(err)
	}
	if err := roles.Grant(ctx, "admin-1", "validator-1", model.CapValidator); err != nil {
		t.Fatal(err)
	}

	tokens, err := identity.NewTokenIssuer([]byte(strings.Repeat("k", 32)), "test", 0)
	if err != nil {
		t.Fatal(err)
	}

	r := gin.New()
	v1 := r.Group("/api/v1")
	handler.NewRecordHandler(ledger, tokens, zap.NewNop()).Register(v1)
	handler.NewRoleHandler(roles, tokens, zap.NewNop()).Register(v1)
	return &testEnv{router: r, tokens: tokens}
}

func (e *testEnv) do(t *testing.T, method, path, as string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != "" {
		token, err := e.tokens.Issue(as)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) store(t *testing.T, id string, fp fingerprint.Fingerprint) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/records", "ingester-1",
		model.StoreRequest{ID: id, Fingerprint: fp.String()})
	if w.Code != http.StatusCreated {
		t.Fatalf("store: expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func TestStoreRecord_201(t *testing.T) {
	env := setupRouter(t)

	w := env.do(t, http.MethodPost, "/api/v1/records", "ingester-1",
		model.StoreRequest{ID: "DS-1", Fingerprint: fpA.String()})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["record_id"] != "DS-1" {
		t.Errorf("record_id = %v", resp["record_id"])
	}
}

func TestStoreRecord_401_withoutToken(t *testing.T) {
	env := setupRouter(t)

	w := env.do(t, http.MethodPost, "/api/v1/records", "",
		model.StoreRequest{ID: "DS-1", Fingerprint: fpA.String()})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestStoreRecord_403_withoutCapability(t *testing.T) {
	env := setupRouter(t)

	w := env.do(t, http.MethodPost, "/api/v1/records", "validator-1",
		model.StoreRequest{ID: "DS-1", Fingerprint: fpA.String()})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
}

func TestStoreRecord_409_duplicate(t *testing.T) {
	env := setupRouter(t)
	env.store(t, "DS-1", fpA)

	w := env.do(t, http.MethodPost, "/api/v1/records", "ingester-1",
		model.StoreRequest{ID: "DS-1", Fingerprint: fpB.String()})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestStoreRecord_400_badFingerprint(t *testing.T) {
	env := setupRouter(t)

	w := env.do(t, http.MethodPost, "/api/v1/records", "ingester-1",
		model.StoreRequest{ID: "DS-1", Fingerprint: "0xnothex"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestUpdateRecord_200_andHistory(t *testing.T) {
	env := setupRouter(t)
	env.store(t, "DS-1", fpA)

	w := env.do(t, http.MethodPut, "/api/v1/records/DS-1", "ingester-1",
		model.UpdateRequest{Fingerprint: fpB.String()})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/api/v1/records/DS-1/history", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history: expected 200, got %d", w.Code)
	}
	var resp struct {
		History []string `json:"history"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.History) != 2 || resp.History[0] != fpA.String() || resp.History[1] != fpB.String() {
		t.Errorf("history = %v", resp.History)
	}
}

func TestUpdateRecord_404_missing(t *testing.T) {
	env := setupRouter(t)

	w := env.do(t, http.MethodPut, "/api/v1/records/ghost", "ingester-1",
		model.UpdateRequest{Fingerprint: fpB.String()})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetRecord_200_and404(t *testing.T) {
	env := setupRouter(t)
	env.store(t, "DS-1", fpA)

	w := env.do(t, http.MethodGet, "/api/v1/records/DS-1", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var rec model.Record
	json.Unmarshal(w.Body.Bytes(), &rec)
	if rec.Fingerprint != fpA {
		t.Errorf("fingerprint = %s", rec.Fingerprint)
	}

	w = env.do(t, http.MethodGet, "/api/v1/records/ghost", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestValidate_200_bothOutcomes(t *testing.T) {
	env := setupRouter(t)
	env.store(t, "DS-1", fpA)

	for _, tc := range []struct {
		fp   fingerprint.Fingerprint
		want bool
	}{
		{fpA, true},
		{fpB, false},
	} {
		w := env.do(t, http.MethodPost, "/api/v1/records/DS-1/validate", "validator-1",
			model.ValidateRequest{Fingerprint: tc.fp.String()})
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		var resp struct {
			IsValid bool `json:"is_valid"`
		}
		json.Unmarshal(w.Body.Bytes(), &resp)
		if resp.IsValid != tc.want {
			t.Errorf("candidate %s: is_valid = %v, want %v", tc.fp, resp.IsValid, tc.want)
		}
	}
}

func TestValidate_403_forIngester(t *testing.T) {
	env := setupRouter(t)
	env.store(t, "DS-1", fpA)

	w := env.do(t, http.MethodPost, "/api/v1/records/DS-1/validate", "ingester-1",
		model.ValidateRequest{Fingerprint: fpA.String()})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestQuickCheck_noTokenNeeded(t *testing.T) {
	env := setupRouter(t)
	env.store(t, "DS-1", fpA)

	w := env.do(t, http.MethodPost, "/api/v1/records/DS-1/check", "",
		model.ValidateRequest{Fingerprint: fpA.String()})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		IsValid bool `json:"is_valid"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.IsValid {
		t.Error("expected is_valid=true")
	}
}

func TestAuditTrail_validateLeavesEntry_quickCheckDoesNot(t *testing.T) {
	env := setupRouter(t)
	env.store(t, "DS-1", fpA)

	trailLen := func() int {
		w := env.do(t, http.MethodGet, "/api/v1/records/DS-1/audit", "", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("audit: expected 200, got %d", w.Code)
		}
		var resp struct {
			Events []json.RawMessage `json:"events"`
		}
		json.Unmarshal(w.Body.Bytes(), &resp)
		return len(resp.Events)
	}

	before := trailLen()
	env.do(t, http.MethodPost, "/api/v1/records/DS-1/check", "",
		model.ValidateRequest{Fingerprint: fpA.String()})
	if got := trailLen(); got != before {
		t.Errorf("quick check grew the audit trail: %d -> %d", before, got)
	}

	env.do(t, http.MethodPost, "/api/v1/records/DS-1/validate", "validator-1",
		model.ValidateRequest{Fingerprint: fpA.String()})
	if got := trailLen(); got != before+1 {
		t.Errorf("validate appended %d events, want 1", got-before)
	}
}

func TestExists_200(t *testing.T) {
	env := setupRouter(t)
	env.store(t, "DS-1", fpA)

	for _, tc := range []struct {
		id   string
		want bool
	}{
		{"DS-1", true},
		{"ghost", false},
	} {
		w := env.do(t, http.MethodGet, "/api/v1/records/"+tc.id+"/exists", "", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		var resp struct {
			Exists bool `json:"exists"`
		}
		json.Unmarshal(w.Body.Bytes(), &resp)
		if resp.Exists != tc.want {
			t.Errorf("%s: exists = %v, want %v", tc.id, resp.Exists, tc.want)
		}
	}
}

func TestRoles_grantAndCheck(t *testing.T) {
	env := setupRouter(t)

	w := env.do(t, http.MethodPost, "/api/v1/roles", "admin-1",
		model.GrantRequest{Identity: "ingester-2", Capability: model.CapIngester})
	if w.Code != http.StatusOK {
		t.Fatalf("grant: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/api/v1/roles/ingester-2/ingester", "", nil)
	var resp struct {
		Held bool `json:"held"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Held {
		t.Error("granted capability not held")
	}

	w = env.do(t, http.MethodDelete, "/api/v1/roles", "admin-1",
		model.GrantRequest{Identity: "ingester-2", Capability: model.CapIngester})
	if w.Code != http.StatusOK {
		t.Fatalf("revoke: expected 200, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/v1/roles/ingester-2/ingester", "", nil)
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Held {
		t.Error("revoked capability still held")
	}
}

func TestRoles_403_nonAdmin(t *testing.T) {
	env := setupRouter(t)

	w := env.do(t, http.MethodPost, "/api/v1/roles", "ingester-1",
		model.GrantRequest{Identity: "x", Capability: model.CapIngester})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestRoles_400_unknownCapability(t *testing.T) {
	env := setupRouter(t)

	w := env.do(t, http.MethodGet, "/api/v1/roles/x/superuser", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestNotReadyBackend_503(t *testing.T) {
	gin.SetMode(gin.TestMode)
	lc := chain.NewLifecycle(zap.NewNop())
	sess := session.New(lc, zap.NewNop())
	ledger := service.NewLedger(lc, sess, zap.NewNop())
	tokens, err := identity.NewTokenIssuer([]byte(strings.Repeat("k", 32)), "test", 0)
	if err != nil {
		t.Fatal(err)
	}

	r := gin.New()
	handler.NewRecordHandler(ledger, tokens, zap.NewNop()).Register(r.Group("/api/v1"))
	env := &testEnv{router: r, tokens: tokens}

	w := env.do(t, http.MethodGet, "/api/v1/records/DS-1", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}
