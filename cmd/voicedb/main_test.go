package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/voicedb/internal/config"
	"github.com/ehr/voicedb/internal/domain/compliance"
	"github.com/ehr/voicedb/internal/domain/execution"
	"github.com/ehr/voicedb/internal/domain/schema"
	"github.com/ehr/voicedb/internal/platform/auth"
	"github.com/ehr/voicedb/internal/platform/hipaa"
	"github.com/ehr/voicedb/internal/platform/middleware"
)

type nopStorage struct{}

func (nopStorage) Execute(context.Context, string, []any) (*execution.StorageResult, error) {
	return &execution.StorageResult{RowsAffected: 1}, nil
}

type memorySink struct {
	mu      sync.Mutex
	records []*hipaa.AuditRecord
}

func (m *memorySink) Append(_ context.Context, rec *hipaa.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }

func testConfig(env string) *config.Config {
	return &config.Config{
		Env:            env,
		AuthSigningKey: strings.Repeat("s", 32),
		ElevatedRole:   "admin",
		AuditTimeout:   time.Second,
		StorageTimeout: time.Second,
		ReadRowLimit:   50,
		BodyLimit:      "64K",
	}
}

func testServer(t *testing.T, cfg *config.Config, sink hipaa.AuditSink) http.Handler {
	t.Helper()
	reg := schema.MustDefault()
	f, err := buildFront(cfg, reg)
	if err != nil {
		t.Fatalf("build front: %v", err)
	}
	retention := hipaa.NewRetentionService(hipaa.DefaultRetentionPolicies(), zerolog.Nop())
	exec := execution.NewExecutor(nopStorage{}, sink, reg, retention, cfg.AuditTimeout, zerolog.Nop())
	svc := execution.NewService(f.normalizer, f.extractor, f.synth, compliance.NewGate(), exec, zerolog.Nop())
	return newServer(cfg, svc, reg, retention, okPinger{}, zerolog.Nop())
}

func post(h http.Handler, body, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/commands", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.RequestIDHeader, "req-abc")
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	h := testServer(t, testConfig("production"), &memorySink{})
	for _, path := range []string{"/health", "/health/db"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestServer_DevCallerExecutes(t *testing.T) {
	sink := &memorySink{}
	h := testServer(t, testConfig("development"), sink)

	rec := post(h, `{"transcript":"list all patients"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(middleware.RequestIDHeader) != "req-abc" {
		t.Error("expected request id to be echoed")
	}
	if len(sink.records) != 1 {
		t.Fatalf("expected one audit record, got %d", len(sink.records))
	}
	if sink.records[0].CallerID != devUser || sink.records[0].RequestID != "req-abc" {
		t.Errorf("unexpected audit record: caller=%s request=%s", sink.records[0].CallerID, sink.records[0].RequestID)
	}
}

func TestServer_ProductionRequiresToken(t *testing.T) {
	cfg := testConfig("production")
	sink := &memorySink{}
	h := testServer(t, cfg, sink)

	rec := post(h, `{"transcript":"list all patients"}`, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for anonymous caller, got %d", rec.Code)
	}

	tok, err := auth.IssueToken(jwtConfig(cfg), "dr-1", nil, false, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	rec = post(h, `{"transcript":"list all patients"}`, "Bearer "+tok)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
	if len(sink.records) != 2 {
		t.Fatalf("expected two audit records, got %d", len(sink.records))
	}
	if sink.records[0].CallerID != "anonymous" || sink.records[1].CallerID != "dr-1" {
		t.Errorf("unexpected callers %s, %s", sink.records[0].CallerID, sink.records[1].CallerID)
	}
}

func TestServer_OversizedBody(t *testing.T) {
	cfg := testConfig("development")
	cfg.BodyLimit = "1K"
	sink := &memorySink{}
	h := testServer(t, cfg, sink)

	body := `{"transcript":"` + strings.Repeat("a", 4096) + `"}`
	rec := post(h, body, "")
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if len(sink.records) != 0 {
		t.Errorf("rejected transport requests never reach the pipeline")
	}
}

func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root := rootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		t.Fatalf("voicedb %v: %v\n%s", args, err, out.String())
	}
	return out.String()
}

func TestCompileCommand(t *testing.T) {
	t.Setenv("RULES_FILE", "")
	out := runCLI(t, "compile", "add patient name John Smith born 1985-06-15")

	var c struct {
		Statement struct {
			TemplateID string `json:"template_id"`
		} `json:"statement"`
		Body       string `json:"body"`
		Parameters []struct {
			Role  string `json:"role"`
			Value string `json:"value"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal([]byte(out), &c); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if c.Statement.TemplateID != "patient.insert" {
		t.Errorf("expected patient.insert, got %q", c.Statement.TemplateID)
	}
	if !strings.Contains(c.Body, "$1") {
		t.Errorf("expected parameterized body, got %q", c.Body)
	}
	for _, p := range c.Parameters {
		if strings.Contains(p.Value, "Smith") {
			t.Errorf("parameter %s not redacted: %q", p.Role, p.Value)
		}
	}
}

func TestEntitiesCommand(t *testing.T) {
	out := runCLI(t, "entities")

	var got []execution.EntitySummary
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != len(schema.DefaultEntities()) {
		t.Fatalf("expected %d entities, got %d", len(schema.DefaultEntities()), len(got))
	}
}

func TestTokenCommand(t *testing.T) {
	key := strings.Repeat("k", 32)
	t.Setenv("AUTH_SIGNING_KEY", key)

	out := strings.TrimSpace(runCLI(t, "token", "--subject", "dr-9", "--role", "admin"))
	claims, err := auth.ParseToken(auth.JWTConfig{SigningKey: []byte(key)}, out)
	if err != nil {
		t.Fatalf("parse minted token: %v", err)
	}
	if claims.Subject != "dr-9" || len(claims.Roles) != 1 || claims.Roles[0] != "admin" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}
