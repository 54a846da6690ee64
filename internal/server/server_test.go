package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"hireline/internal/app"
	"hireline/internal/config"
	"hireline/internal/db"
	"hireline/internal/domain"
	"hireline/internal/migrate"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	rt, err := app.BuildWithDB(context.Background(), conn, config.Default())
	if err != nil {
		t.Fatalf("build runtime: %v", err)
	}
	handler, err := New(Config{
		Coordinator:   rt.Coordinator,
		DefaultBudget: rt.Config.Service.DefaultBudget,
		BasePath:      "/v0",
		Auth: AuthConfig{
			JWTSecret:                  testJWTSecret,
			AllowLegacyRequesterHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asAlice(h map[string]string) map[string]string {
	if h == nil {
		h = map[string]string{}
	}
	h["X-Requester-Id"] = "alice"
	return h
}

func TestRunTaskEndToEnd(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"task": "weather in Rome",
	}, asAlice(nil))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("run task status %d: %s", res.StatusCode, string(data))
	}
	var trace domain.ExecutionTrace
	if err := json.Unmarshal(data, &trace); err != nil {
		t.Fatalf("unmarshal trace: %v", err)
	}
	if trace.RequesterID != "alice" {
		t.Fatalf("requester = %s", trace.RequesterID)
	}
	if len(trace.Steps) != 1 || trace.Steps[0].Status != domain.StepSuccess {
		t.Fatalf("steps = %+v", trace.Steps)
	}
	if trace.Steps[0].WorkerID != "weather" {
		t.Fatalf("worker = %s", trace.Steps[0].WorkerID)
	}
	if trace.Answer == "" {
		t.Fatal("answer is empty")
	}

	getRes, getBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+trace.TaskID, nil, asAlice(nil))
	if getRes.StatusCode != http.StatusOK {
		t.Fatalf("get task status %d: %s", getRes.StatusCode, string(getBody))
	}
	var fetched domain.ExecutionTrace
	if err := json.Unmarshal(getBody, &fetched); err != nil {
		t.Fatalf("unmarshal fetched trace: %v", err)
	}
	if fetched.Task != "weather in Rome" {
		t.Fatalf("fetched task = %q", fetched.Task)
	}

	ledgerRes, ledgerBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/ledger", nil, asAlice(nil))
	if ledgerRes.StatusCode != http.StatusOK {
		t.Fatalf("ledger status %d: %s", ledgerRes.StatusCode, string(ledgerBody))
	}
	var records []domain.SettlementRecord
	if err := json.Unmarshal(ledgerBody, &records); err != nil {
		t.Fatalf("unmarshal ledger: %v", err)
	}
	if len(records) != 1 || records[0].WorkerID != "weather" {
		t.Fatalf("ledger records = %+v", records)
	}
}

func TestListRegistryWorkers(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/registry?category=data", nil, asAlice(nil))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("registry status %d: %s", res.StatusCode, string(data))
	}
	var workers []domain.WorkerEntry
	if err := json.Unmarshal(data, &workers); err != nil {
		t.Fatalf("unmarshal workers: %v", err)
	}
	if len(workers) != 2 {
		t.Fatalf("data workers = %d", len(workers))
	}
	for _, w := range workers {
		if w.Efficiency <= 0 {
			t.Fatalf("worker %s efficiency = %g", w.ID, w.Efficiency)
		}
	}

	rankedRes, rankedBody := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/registry?category=data&sort=efficiency", nil, asAlice(nil))
	if rankedRes.StatusCode != http.StatusOK {
		t.Fatalf("ranked status %d: %s", rankedRes.StatusCode, string(rankedBody))
	}
	var ranked []domain.WorkerEntry
	if err := json.Unmarshal(rankedBody, &ranked); err != nil {
		t.Fatalf("unmarshal ranked: %v", err)
	}
	if ranked[0].ID != "weather" {
		t.Fatalf("top ranked worker = %s", ranked[0].ID)
	}
}

func TestRunTaskRejectsBadBudget(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"task":         "weather in Rome",
		"budget_limit": -1,
	}, asAlice(nil))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "bad_request" {
		t.Fatalf("error code = %s", envelope.Error.Code)
	}
}

func TestBudgetRejectionReportedInTrace(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"task":         "weather in Rome",
		"budget_limit": 0.0001,
	}, asAlice(nil))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var trace domain.ExecutionTrace
	if err := json.Unmarshal(data, &trace); err != nil {
		t.Fatalf("unmarshal trace: %v", err)
	}
	if len(trace.Steps) != 1 || trace.Steps[0].Status != domain.StepRejected {
		t.Fatalf("steps = %+v", trace.Steps)
	}
	if trace.CumulativeCost != 0 {
		t.Fatalf("cost = %g", trace.CumulativeCost)
	}
}

func TestUnauthorizedWithoutIdentity(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"task": "weather",
	}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("error code = %s", envelope.Error.Code)
	}
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestJWTAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "bob",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"task": "weather in Rome",
	}, map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var trace domain.ExecutionTrace
	if err := json.Unmarshal(data, &trace); err != nil {
		t.Fatalf("unmarshal trace: %v", err)
	}
	if trace.RequesterID != "bob" {
		t.Fatalf("requester = %s", trace.RequesterID)
	}

	badRes, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/registry", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if badRes.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status %d", badRes.StatusCode)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/keys", map[string]any{
		"name": "ci",
	}, asAlice(nil))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key status %d: %s", res.StatusCode, string(data))
	}
	var created APIKeyResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}
	if !strings.HasPrefix(created.Key, "hk_") {
		t.Fatalf("plaintext key = %q", created.Key)
	}

	keyRes, keyBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/registry", nil, map[string]string{
		"X-Api-Key": created.Key,
	})
	if keyRes.StatusCode != http.StatusOK {
		t.Fatalf("api key auth status %d: %s", keyRes.StatusCode, string(keyBody))
	}

	delRes, delBody := doJSON(t, client, http.MethodDelete, srv.URL+"/v0/keys/"+created.ID, nil, asAlice(nil))
	if delRes.StatusCode != http.StatusNoContent {
		t.Fatalf("delete key status %d: %s", delRes.StatusCode, string(delBody))
	}

	revokedRes, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/registry", nil, map[string]string{
		"X-Api-Key": created.Key,
	})
	if revokedRes.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked key status %d", revokedRes.StatusCode)
	}
}

func TestGetUnknownTask(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks/nope", nil, asAlice(nil))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
}

func TestOpenAPIAndDocsServed(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, asAlice(nil))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	var spec struct {
		Components struct {
			SecuritySchemes map[string]any `json:"securitySchemes"`
		} `json:"components"`
	}
	if err := json.Unmarshal(data, &spec); err != nil {
		t.Fatalf("unmarshal spec: %v", err)
	}
	if _, ok := spec.Components.SecuritySchemes["bearerAuth"]; !ok {
		t.Fatal("bearerAuth scheme missing")
	}

	docsRes, docsBody := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/docs", nil, nil)
	if docsRes.StatusCode != http.StatusOK || !strings.Contains(string(docsBody), "swagger-ui") {
		t.Fatalf("docs status %d", docsRes.StatusCode)
	}
}
