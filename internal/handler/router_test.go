package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/boddenberg/pj-clientes-go/internal/app"
	"github.com/boddenberg/pj-clientes-go/internal/config"
	"github.com/boddenberg/pj-clientes-go/internal/controller"
	"github.com/boddenberg/pj-clientes-go/internal/domain"
	"github.com/boddenberg/pj-clientes-go/internal/infra/observability"

	"go.uber.org/zap"
)

func newApp(t *testing.T) *app.App {
	t.Helper()
	cfg := config.Load()
	cfg.UseSupabase = false
	cfg.NotificationTTL = time.Minute

	a := app.Build(cfg, observability.NewMetrics(), zap.NewNop())
	a.Start(context.Background())
	t.Cleanup(a.Close)
	return a
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeState(t *testing.T, rec *httptest.ResponseRecorder) controller.State {
	t.Helper()
	var st controller.State
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode state: %v (body=%s)", err, rec.Body.String())
	}
	return st
}

// signUpAndLogin registers an account and waits until its tenant is active
// and the first load finished.
func signUpAndLogin(t *testing.T, a *app.App, email string) {
	t.Helper()
	rec := do(t, a.Router, http.MethodPost, "/v1/session/signup", domain.SignUpRequest{
		Email:         email,
		Password:      "secret1",
		CompanyName:   "Acme",
		AcceptedTerms: true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = do(t, a.Router, http.MethodPost, "/v1/session/login", map[string]string{"email": email, "password": "secret1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	deadline := time.Now().Add(2 * time.Second)
	for a.Customers.TenantID() == "" {
		if time.Now().After(deadline) {
			t.Fatal("tenant never became active")
		}
		time.Sleep(5 * time.Millisecond)
	}
	a.Customers.Wait()
}

// ============================================================
// Probes
// ============================================================

func TestHealthz(t *testing.T) {
	a := newApp(t)

	rec := do(t, a.Router, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestReadyz(t *testing.T) {
	a := newApp(t)

	rec := do(t, a.Router, http.MethodGet, "/readyz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	a := newApp(t)

	rec := do(t, a.Router, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

// ============================================================
// Session
// ============================================================

func TestView_StartsLoggedOutInLoginMode(t *testing.T) {
	a := newApp(t)

	st := decodeState(t, do(t, a.Router, http.MethodGet, "/v1/view", nil))
	if st.Session.IsLoggedIn || st.Session.IsInitializing {
		t.Errorf("unexpected session %+v", st.Session)
	}
	if st.Mode != controller.ModeLogin {
		t.Errorf("expected login mode, got %s", st.Mode)
	}
	if len(st.Customers) != 0 {
		t.Errorf("expected empty list, got %d", len(st.Customers))
	}
}

func TestSignUp_RequiresTerms(t *testing.T) {
	a := newApp(t)

	rec := do(t, a.Router, http.MethodPost, "/v1/session/signup", domain.SignUpRequest{
		Email:    "acme@example.com",
		Password: "secret1",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	n, ok := a.Notifications.Current()
	if !ok || n.Kind != domain.NotifyError {
		t.Errorf("expected error notification, got %+v", n)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	a := newApp(t)

	rec := do(t, a.Router, http.MethodPost, "/v1/session/login", map[string]string{"email": "x@y.com", "password": "nope"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	n, _ := a.Notifications.Current()
	if n.Message != "E-mail ou senha inválidos." {
		t.Errorf("unexpected notification %q", n.Message)
	}
}

func TestMode_Switch(t *testing.T) {
	a := newApp(t)

	rec := do(t, a.Router, http.MethodPost, "/v1/session/mode", map[string]string{"mode": "signup"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if st := decodeState(t, rec); st.Mode != controller.ModeSignUp {
		t.Errorf("expected signup mode, got %s", st.Mode)
	}

	rec = do(t, a.Router, http.MethodPost, "/v1/session/mode", map[string]string{"mode": "admin"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

// ============================================================
// Customers
// ============================================================

func TestCustomers_RequireTenant(t *testing.T) {
	a := newApp(t)

	rec := do(t, a.Router, http.MethodPost, "/v1/customers", map[string]string{"name": "Ana"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestCustomers_CreateFilterExportDelete(t *testing.T) {
	a := newApp(t)
	signUpAndLogin(t, a, "acme@example.com")

	rec := do(t, a.Router, http.MethodPost, "/v1/customers", map[string]string{
		"name":              "Ana Souza",
		"phone":             "11999990000",
		"email":             "ana@example.com",
		"status":            "active",
		"registration_date": "2024-01-15",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var ana domain.Customer
	_ = json.Unmarshal(rec.Body.Bytes(), &ana)

	rec = do(t, a.Router, http.MethodPost, "/v1/customers", map[string]string{"name": "Bruno", "phone": "21888880000", "status": "pending"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	st := decodeState(t, do(t, a.Router, http.MethodGet, "/v1/view", nil))
	if st.Stats != (domain.AppStats{Total: 2, Active: 1, Inactive: 1}) {
		t.Errorf("unexpected stats %+v", st.Stats)
	}

	st = decodeState(t, do(t, a.Router, http.MethodGet, "/v1/view?q=ANA", nil))
	if len(st.Customers) != 1 || st.Customers[0].ID != ana.ID {
		t.Fatalf("expected only Ana, got %+v", st.Customers)
	}

	// Export follows the displayed (filtered) list.
	rec = do(t, a.Router, http.MethodGet, "/v1/customers/export.csv", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("unexpected content type %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "clientes_export_") {
		t.Errorf("unexpected disposition %q", cd)
	}
	want := "\uFEFFNome,Telefone,E-mail,Status,Data Cadastro\nAna Souza,11999990000,ana@example.com,active,15/01/2024\n"
	if rec.Body.String() != want {
		t.Errorf("unexpected csv:\n%q\nwant:\n%q", rec.Body.String(), want)
	}

	rec = do(t, a.Router, http.MethodGet, "/v1/customers/export.xlsx", nil)
	if rec.Code != http.StatusOK || rec.Body.Len() == 0 {
		t.Errorf("expected xlsx, got %d", rec.Code)
	}

	rec = do(t, a.Router, http.MethodDelete, "/v1/customers/"+ana.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	st = decodeState(t, do(t, a.Router, http.MethodGet, "/v1/view?q=", nil))
	if len(st.Customers) != 1 || st.Customers[0].Name != "Bruno" {
		t.Errorf("expected only Bruno, got %+v", st.Customers)
	}

	rec = do(t, a.Router, http.MethodDelete, "/v1/customers/"+ana.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 on second delete, got %d", rec.Code)
	}
}

func TestCustomers_ValidationErrors(t *testing.T) {
	a := newApp(t)
	signUpAndLogin(t, a, "acme@example.com")

	cases := []map[string]string{
		{"name": ""},
		{"name": "Ana", "status": "archived"},
		{"name": "Ana", "registration_date": "15/01/2024"},
	}
	for _, body := range cases {
		rec := do(t, a.Router, http.MethodPost, "/v1/customers", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %v: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestExport_EmptyListIsRejected(t *testing.T) {
	a := newApp(t)
	signUpAndLogin(t, a, "acme@example.com")

	rec := do(t, a.Router, http.MethodGet, "/v1/customers/export.csv", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	n, _ := a.Notifications.Current()
	if n.Message != "Não há clientes para exportar." {
		t.Errorf("unexpected notification %q", n.Message)
	}
}

func TestLogout_EmptiesList(t *testing.T) {
	a := newApp(t)
	signUpAndLogin(t, a, "acme@example.com")

	rec := do(t, a.Router, http.MethodPost, "/v1/customers", map[string]string{"name": "Ana"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	rec = do(t, a.Router, http.MethodPost, "/v1/session/logout", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		st := decodeState(t, do(t, a.Router, http.MethodGet, "/v1/view", nil))
		if !st.Session.IsLoggedIn && len(st.Customers) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session never cleared: %+v", st)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSessionMetrics(t *testing.T) {
	a := newApp(t)
	signUpAndLogin(t, a, "acme@example.com")

	rec := do(t, a.Router, http.MethodGet, "/v1/metrics/session", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap domain.SyncMetrics
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.AuthEvents[string(domain.EventSignedIn)] != 1 {
		t.Errorf("expected one SignedIn, got %+v", snap.AuthEvents)
	}
	if snap.CustomerLoads < 1 {
		t.Errorf("expected at least one load, got %d", snap.CustomerLoads)
	}
}
