// Package app assembles the client core: backends, session store, customer
// synchronizer, notification queue, controller and HTTP shell.
package app

import (
	"context"
	"net/http"

	"github.com/boddenberg/pj-clientes-go/internal/config"
	"github.com/boddenberg/pj-clientes-go/internal/controller"
	"github.com/boddenberg/pj-clientes-go/internal/customers"
	"github.com/boddenberg/pj-clientes-go/internal/domain"
	"github.com/boddenberg/pj-clientes-go/internal/handler"
	"github.com/boddenberg/pj-clientes-go/internal/infra/cache"
	"github.com/boddenberg/pj-clientes-go/internal/infra/gotrue"
	"github.com/boddenberg/pj-clientes-go/internal/infra/memory"
	"github.com/boddenberg/pj-clientes-go/internal/infra/observability"
	"github.com/boddenberg/pj-clientes-go/internal/infra/resilience"
	"github.com/boddenberg/pj-clientes-go/internal/infra/supabase"
	"github.com/boddenberg/pj-clientes-go/internal/notify"
	"github.com/boddenberg/pj-clientes-go/internal/port"
	"github.com/boddenberg/pj-clientes-go/internal/session"

	"go.uber.org/zap"
)

// App is the assembled client.
type App struct {
	Session       *session.Store
	Customers     *customers.Synchronizer
	Notifications *notify.Queue
	Controller    *controller.Controller
	Router        http.Handler

	// MemoryAuth is set when running on the in-memory backend.
	MemoryAuth *memory.AuthBackend

	closers []func()
}

// Build wires the components for cfg. Nothing runs until Start.
func Build(cfg *config.Config, metrics *observability.Metrics, logger *zap.Logger) *App {
	a := &App{}

	var (
		auth   port.AuthService
		store  port.CustomerStore
		forget func(userID string)
	)

	if cfg.UseSupabase {
		logger.Info("using Supabase as auth and data backend",
			zap.String("supabase_url", cfg.SupabaseURL),
		)

		resilienceCfg := resilience.Config{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
			MaxConcurrency: cfg.MaxConcurrency,
		}
		httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

		var authClient *gotrue.Client
		tokens := supabase.TokenFunc(func() string { return authClient.AccessToken() })
		client := supabase.NewClient(
			httpClient,
			cfg.SupabaseURL,
			cfg.SupabaseAnonKey,
			tokens,
			resilience.NewCircuitBreaker("supabase-rest", logger),
			resilienceCfg,
			metrics,
			logger,
		)

		profileCache := cache.New[*domain.Profile](cfg.ProfileCacheTTL)
		a.closers = append(a.closers, profileCache.Close)
		profiles := supabase.NewProfileStore(client, cfg.ProfilesTable, profileCache)
		forget = profiles.Forget

		authClient = gotrue.NewClient(gotrue.Config{
			BaseURL:       cfg.SupabaseURL,
			APIKey:        cfg.SupabaseAnonKey,
			Timeout:       cfg.HTTPTimeout,
			MaxRetries:    cfg.MaxRetries,
			RefreshMargin: cfg.TokenRefreshMargin,
		}, profiles, metrics, logger)
		a.closers = append(a.closers, authClient.Close)

		auth = authClient
		store = supabase.NewCustomerStore(client, cfg.CustomersTable)
	} else {
		logger.Info("using in-memory auth and data backend")
		memAuth := memory.NewAuthBackend(cfg.JWTSecret, cfg.JWTAccessTTL, 0, logger)
		a.MemoryAuth = memAuth
		auth = memAuth
		store = memory.NewCustomerBackend()
	}

	a.Notifications = notify.NewQueue(cfg.NotificationTTL, metrics, logger)
	a.closers = append(a.closers, a.Notifications.Close)

	a.Session = session.NewStore(auth, metrics, logger)
	a.Customers = customers.NewSynchronizer(store, a.Notifications, metrics, logger)
	a.Controller = controller.New(a.Session, a.Customers, a.Notifications, metrics, logger)
	a.Router = handler.NewRouter(a.Controller, metrics, logger)

	if forget != nil {
		a.Session.OnChange(forgetOnSignOut(forget))
	}
	return a
}

// Start subscribes the synchronizer to the session and resolves the initial
// session. Session events are processed until ctx ends or Close is called.
func (a *App) Start(ctx context.Context) {
	a.Session.OnChange(a.Customers.SessionListener(ctx))
	a.Session.Start(ctx)
}

// Close stops the session loop, waits for in-flight loads and releases
// background timers.
func (a *App) Close() {
	a.Session.Stop()
	a.Customers.Wait()
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// forgetOnSignOut drops the cached profile of a tenant once it is no longer
// active, so the next sign-in reads it fresh.
func forgetOnSignOut(forget func(string)) session.Listener {
	var last string
	return func(s domain.Session) {
		current := s.TenantID()
		if last != "" && current != last {
			forget(last)
		}
		last = current
	}
}
