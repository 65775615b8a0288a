package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/boddenberg/pj-clientes-go/internal/controller"
	"github.com/boddenberg/pj-clientes-go/internal/domain"
	"github.com/boddenberg/pj-clientes-go/internal/infra/observability"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// NewRouter creates the HTTP router with all routes and middleware. The
// routes are a headless rendering of the client: every mutation answers
// with the resulting view state.
func NewRouter(ctrl *controller.Controller, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler())
	r.Get("/readyz", readyzHandler(ctrl))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Get("/view", viewHandler(ctrl))
		r.Get("/metrics/session", sessionMetricsHandler(metrics))

		// =============================================
		// Session
		// =============================================
		r.Route("/session", func(r chi.Router) {
			r.Post("/mode", modeHandler(ctrl))
			r.Post("/login", loginHandler(ctrl, logger))
			r.Post("/signup", signUpHandler(ctrl, logger))
			r.Post("/logout", logoutHandler(ctrl, logger))
		})

		// =============================================
		// Customers (active tenant only)
		// =============================================
		r.Route("/customers", func(r chi.Router) {
			r.Use(RequireTenant(ctrl, logger))
			r.Post("/", saveCustomerHandler(ctrl, logger))
			r.Delete("/{customerId}", deleteCustomerHandler(ctrl, logger))
			r.Get("/export.csv", exportCSVHandler(ctrl, logger))
			r.Get("/export.xlsx", exportXLSXHandler(ctrl, logger))
		})
	})

	return r
}

// ============================================================
// View
// ============================================================

// viewHandler renders the current state. A q parameter updates the search
// query first.
func viewHandler(ctrl *controller.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if q, ok := r.URL.Query()["q"]; ok {
			ctrl.SetQuery(strings.Join(q, " "))
		}
		writeJSON(w, http.StatusOK, ctrl.State())
	}
}

func sessionMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetSyncSnapshot())
	}
}

// ============================================================
// Session
// ============================================================

type modeRequest struct {
	Mode controller.Mode `json:"mode"`
}

func modeHandler(ctrl *controller.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req modeRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Mode != controller.ModeLogin && req.Mode != controller.ModeSignUp {
			writeError(w, http.StatusBadRequest, "mode must be login or signup")
			return
		}
		ctrl.SetMode(req.Mode)
		writeJSON(w, http.StatusOK, ctrl.State())
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func loginHandler(ctrl *controller.Controller, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/session/login")
		defer span.End()

		var req loginRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if err := ctrl.SubmitLogin(ctx, req.Email, req.Password); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, ctrl.State())
	}
}

func signUpHandler(ctrl *controller.Controller, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/session/signup")
		defer span.End()

		var req domain.SignUpRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if err := ctrl.SubmitSignUp(ctx, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, ctrl.State())
	}
}

func logoutHandler(ctrl *controller.Controller, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/session/logout")
		defer span.End()

		if err := ctrl.Logout(ctx); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, ctrl.State())
	}
}

// ============================================================
// Customers
// ============================================================

// customerForm is the edit form. An empty id creates a customer.
type customerForm struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Phone            string `json:"phone"`
	Email            string `json:"email"`
	RegistrationDate string `json:"registration_date"`
	Status           string `json:"status"`
	Observations     string `json:"observations"`
}

func (f customerForm) toDomain() (domain.Customer, error) {
	c := domain.Customer{
		ID:           strings.TrimSpace(f.ID),
		Name:         f.Name,
		Phone:        f.Phone,
		Email:        f.Email,
		Status:       domain.CustomerStatus(f.Status),
		Observations: f.Observations,
	}
	if f.RegistrationDate != "" {
		d, err := time.Parse("2006-01-02", f.RegistrationDate)
		if err != nil {
			return c, &domain.ErrValidation{Field: "registration_date", Message: "Data de cadastro inválida."}
		}
		c.RegistrationDate = d
	}
	return c, nil
}

func saveCustomerHandler(ctrl *controller.Controller, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/customers")
		defer span.End()
		span.SetAttributes(attribute.String("tenant.id", TenantIDFromContext(ctx)))

		var form customerForm
		if err := decodeJSON(r, &form); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		customer, err := form.toDomain()
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		status := http.StatusOK
		if customer.IsNew() {
			status = http.StatusCreated
		}

		saved, err := ctrl.SubmitCustomer(ctx, customer)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, status, saved)
	}
}

func deleteCustomerHandler(ctrl *controller.Controller, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/customers/{customerId}")
		defer span.End()

		id := chi.URLParam(r, "customerId")
		span.SetAttributes(
			attribute.String("tenant.id", TenantIDFromContext(ctx)),
			attribute.String("customer.id", id),
		)

		if err := ctrl.DeleteCustomer(ctx, id); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func exportCSVHandler(ctrl *controller.Controller, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, filename, err := ctrl.ExportCSV()
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeFile(w, "text/csv; charset=utf-8", filename, data)
	}
}

func exportXLSXHandler(ctrl *controller.Controller, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, filename, err := ctrl.ExportXLSX()
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeFile(w, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", filename, data)
	}
}

// ============================================================
// Probes
// ============================================================

func healthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":    "healthy",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}
}

// readyzHandler reports ready once the initial session resolution finished.
func readyzHandler(ctrl *controller.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ctrl.Session().IsInitializing {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "initializing"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
