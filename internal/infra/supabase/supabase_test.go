package supabase_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/pj-clientes-go/internal/domain"
	"github.com/boddenberg/pj-clientes-go/internal/infra/cache"
	"github.com/boddenberg/pj-clientes-go/internal/infra/observability"
	"github.com/boddenberg/pj-clientes-go/internal/infra/resilience"
	"github.com/boddenberg/pj-clientes-go/internal/infra/supabase"

	"go.uber.org/zap"
)

type staticToken string

func (s staticToken) AccessToken() string { return string(s) }

func newClient(t *testing.T, srv *httptest.Server, tokens supabase.TokenSource) *supabase.Client {
	t.Helper()
	cfg := resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxConcurrency: 4}
	return supabase.NewClient(
		srv.Client(), srv.URL, "anon-key", tokens,
		resilience.NewCircuitBreaker(t.Name(), zap.NewNop()), cfg,
		observability.NewMetrics(), zap.NewNop(),
	)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ============================================================
// Profiles
// ============================================================

func TestProfileStore_GetProfile(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/rest/v1/profiles" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("id"); got != "eq.user-1" {
			t.Errorf("unexpected id filter %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer user-token" {
			t.Errorf("unexpected authorization %q", got)
		}
		if got := r.Header.Get("apikey"); got != "anon-key" {
			t.Errorf("unexpected apikey %q", got)
		}
		writeJSON(w, http.StatusOK, []map[string]any{{
			"id":               "user-1",
			"email":            "acme@example.com",
			"company_name":     "Acme",
			"responsible_name": "Maria",
			"accepted_terms":   true,
			"created_at":       "2024-03-01T12:00:00Z",
		}})
	}))
	defer srv.Close()

	profiles := cache.New[*domain.Profile](time.Minute)
	defer profiles.Close()
	store := supabase.NewProfileStore(newClient(t, srv, staticToken("user-token")), "profiles", profiles)

	p, err := store.GetProfile(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.CompanyName != "Acme" || !p.AcceptedTerms {
		t.Errorf("unexpected profile %+v", p)
	}
	if p.CreatedAt.IsZero() {
		t.Error("expected created_at to be parsed")
	}

	// Served from cache.
	if _, err := store.GetProfile(context.Background(), "user-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 backend call, got %d", calls.Load())
	}

	store.Forget("user-1")
	if _, err := store.GetProfile(context.Background(), "user-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected refetch after Forget, got %d calls", calls.Load())
	}
}

func TestProfileStore_NotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusOK, []any{})
	}))
	defer srv.Close()

	store := supabase.NewProfileStore(newClient(t, srv, nil), "profiles", nil)

	_, err := store.GetProfile(context.Background(), "ghost")
	var notFound *domain.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single call, got %d", calls.Load())
	}
}

func TestProfileStore_ServerErrorIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, []map[string]any{{"id": "user-1"}})
	}))
	defer srv.Close()

	store := supabase.NewProfileStore(newClient(t, srv, nil), "profiles", nil)

	if _, err := store.GetProfile(context.Background(), "user-1"); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestProfileStore_ExhaustedRetriesIsExternalError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	store := supabase.NewProfileStore(newClient(t, srv, nil), "profiles", nil)

	_, err := store.GetProfile(context.Background(), "user-1")
	var ext *domain.ErrExternalService
	if !errors.As(err, &ext) {
		t.Fatalf("expected ErrExternalService, got %v", err)
	}
	if ext.Service != "supabase/profile" {
		t.Errorf("unexpected service %q", ext.Service)
	}
}

// ============================================================
// Customers
// ============================================================

func TestCustomerStore_FetchAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("tenant_id") != "eq.tenant-1" || q.Get("is_deleted") != "eq.false" || q.Get("order") != "created_at.desc" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		writeJSON(w, http.StatusOK, []map[string]any{
			{"id": "c2", "tenant_id": "tenant-1", "name": "Bob", "status": "pending", "registration_date": "2024-02-10"},
			{"id": "c1", "tenant_id": "tenant-1", "name": "Ana", "status": "active", "registration_date": "2024-01-15"},
		})
	}))
	defer srv.Close()

	store := supabase.NewCustomerStore(newClient(t, srv, nil), "customers")

	list, err := store.FetchAll(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 2 || list[0].ID != "c2" {
		t.Fatalf("unexpected list %+v", list)
	}
	if got := list[1].RegistrationDate.Format("02/01/2006"); got != "15/01/2024" {
		t.Errorf("unexpected registration date %s", got)
	}
	if list[0].Status != domain.StatusPending {
		t.Errorf("unexpected status %s", list[0].Status)
	}
}

func TestCustomerStore_SaveInsertsWithPost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("Prefer") != "return=representation" {
			t.Errorf("missing Prefer header")
		}
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		if _, ok := body["id"]; ok {
			t.Error("insert must not send an id")
		}
		if body["registration_date"] != "2024-05-20" {
			t.Errorf("unexpected registration_date %v", body["registration_date"])
		}
		body["id"] = "new-id"
		body["created_at"] = "2024-05-20T10:00:00Z"
		writeJSON(w, http.StatusCreated, []map[string]any{body})
	}))
	defer srv.Close()

	store := supabase.NewCustomerStore(newClient(t, srv, nil), "customers")

	saved, err := store.Save(context.Background(), &domain.Customer{
		TenantID:         "tenant-1",
		CreatedBy:        "tenant-1",
		Name:             "Carla",
		Status:           domain.StatusActive,
		RegistrationDate: time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.ID != "new-id" || saved.Name != "Carla" {
		t.Errorf("unexpected saved %+v", saved)
	}
}

func TestCustomerStore_UpdateScopedToTenant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("expected PATCH, got %s", r.Method)
		}
		q := r.URL.Query()
		if q.Get("id") != "eq.c9" || q.Get("tenant_id") != "eq.tenant-1" {
			t.Errorf("unexpected filters %s", r.URL.RawQuery)
		}
		// Row belongs to someone else: nothing matched.
		writeJSON(w, http.StatusOK, []any{})
	}))
	defer srv.Close()

	store := supabase.NewCustomerStore(newClient(t, srv, nil), "customers")

	_, err := store.Save(context.Background(), &domain.Customer{ID: "c9", TenantID: "tenant-1", Name: "X"})
	var notFound *domain.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCustomerStore_ForbiddenByPolicy(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusForbidden, map[string]string{
			"code":    "42501",
			"message": "new row violates row-level security policy",
		})
	}))
	defer srv.Close()

	store := supabase.NewCustomerStore(newClient(t, srv, nil), "customers")

	_, err := store.Save(context.Background(), &domain.Customer{TenantID: "tenant-2", Name: "X"})
	var forbidden *domain.ErrForbidden
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("policy rejections must not be retried, got %d calls", calls.Load())
	}
}

func TestCustomerStore_HardDelete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		if r.URL.Query().Get("id") == "eq.c1" {
			writeJSON(w, http.StatusOK, []map[string]any{{"id": "c1", "tenant_id": "tenant-1"}})
			return
		}
		writeJSON(w, http.StatusOK, []any{})
	}))
	defer srv.Close()

	store := supabase.NewCustomerStore(newClient(t, srv, nil), "customers")

	if err := store.HardDelete(context.Background(), "c1", "tenant-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := store.HardDelete(context.Background(), "missing", "tenant-1")
	var notFound *domain.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
