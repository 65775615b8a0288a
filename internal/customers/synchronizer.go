// Package customers owns the in-memory customer list of the active tenant and
// keeps it in sync with the persistence backend.
package customers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/boddenberg/pj-clientes-go/internal/domain"
	"github.com/boddenberg/pj-clientes-go/internal/infra/observability"
	"github.com/boddenberg/pj-clientes-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("customers")

// User-facing messages.
const (
	msgLoadFailed    = "Erro ao carregar clientes."
	msgCreated       = "Cliente cadastrado com sucesso!"
	msgUpdated       = "Cliente atualizado com sucesso!"
	msgSaveFailed    = "Erro ao salvar cliente."
	msgDeleted       = "Cliente excluído permanentemente."
	msgDeleteFailed  = "Erro ao excluir cliente."
	msgNotFound      = "Cliente não encontrado."
	msgForbidden     = "Você não tem permissão para alterar este cliente."
	msgNoSession     = "Sessão expirada. Faça login novamente."
	msgNameRequired  = "Nome é obrigatório."
	msgInvalidStatus = "Status inválido."
)

// Synchronizer is the only writer of the customer list. Every stored
// customer belongs to the active tenant.
type Synchronizer struct {
	store    port.CustomerStore
	notifier port.Notifier
	metrics  *observability.Metrics
	logger   *zap.Logger

	mu        sync.Mutex
	tenantID  string
	customers []domain.Customer
	revision  uint64
	onChange  func()

	inflight sync.WaitGroup
}

// NewSynchronizer creates an empty synchronizer with no active tenant.
func NewSynchronizer(store port.CustomerStore, notifier port.Notifier, metrics *observability.Metrics, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		store:    store,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
	}
}

// OnChange registers a callback run after every list replacement.
func (s *Synchronizer) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// SessionListener returns the hook the session store calls on every change.
// A different tenant id discards the list; a new non-empty id triggers a
// background reload. Updates that keep the tenant (token refresh) are ignored.
func (s *Synchronizer) SessionListener(ctx context.Context) func(domain.Session) {
	return func(sess domain.Session) {
		tenant := sess.TenantID()

		s.mu.Lock()
		if tenant == s.tenantID {
			s.mu.Unlock()
			return
		}
		previous := s.tenantID
		s.tenantID = tenant
		s.replaceLocked(nil)
		onChange := s.onChange
		if tenant != "" {
			s.inflight.Add(1)
		}
		s.mu.Unlock()

		s.logger.Info("customers: active tenant changed",
			zap.String("previous_tenant_id", previous),
			zap.String("tenant_id", tenant),
		)
		if onChange != nil {
			onChange()
		}

		if tenant == "" {
			return
		}
		go func() {
			defer s.inflight.Done()
			_ = s.LoadAll(ctx, tenant)
		}()
	}
}

// Wait blocks until background reloads started by session changes finish.
func (s *Synchronizer) Wait() {
	s.inflight.Wait()
}

// TenantID returns the tenant the list currently belongs to.
func (s *Synchronizer) TenantID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tenantID
}

// Customers returns a copy of the list along with its revision.
func (s *Synchronizer) Customers() ([]domain.Customer, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Customer, len(s.customers))
	copy(out, s.customers)
	return out, s.revision
}

// LoadAll replaces the list with the backend's view of tenantID. On failure
// the previous list is kept. A result for a tenant that is no longer active
// is discarded. Concurrent loads resolve last-writer-wins.
func (s *Synchronizer) LoadAll(ctx context.Context, tenantID string) error {
	ctx, span := tracer.Start(ctx, "Customers.LoadAll")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	if tenantID == "" || tenantID != s.TenantID() {
		return &domain.ErrNoSession{}
	}

	start := time.Now()
	list, err := s.store.FetchAll(ctx, tenantID)
	s.recordDuration("customers.load", start)
	if err != nil {
		s.logger.Error("customers: load failed",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		s.countOp("load", err)
		if s.TenantID() != tenantID {
			return err
		}
		s.notify(msgLoadFailed, domain.NotifyError)
		return err
	}
	s.countOp("load", nil)

	s.mu.Lock()
	if s.tenantID != tenantID {
		s.mu.Unlock()
		s.logger.Debug("customers: discarding load for inactive tenant", zap.String("tenant_id", tenantID))
		return nil
	}
	s.replaceLocked(list)
	onChange := s.onChange
	s.mu.Unlock()

	s.logger.Debug("customers: list loaded",
		zap.String("tenant_id", tenantID),
		zap.Int("count", len(list)),
	)
	if onChange != nil {
		onChange()
	}
	return nil
}

// Save creates or updates a customer for the active tenant and then reloads
// the whole list. Ownership fields are overwritten with the active tenant and
// IsDeleted is always cleared.
func (s *Synchronizer) Save(ctx context.Context, c domain.Customer) (*domain.Customer, error) {
	ctx, span := tracer.Start(ctx, "Customers.Save")
	defer span.End()

	tenant := s.TenantID()
	if tenant == "" {
		s.notify(msgNoSession, domain.NotifyError)
		return nil, &domain.ErrNoSession{}
	}
	span.SetAttributes(attribute.String("tenant.id", tenant), attribute.Bool("customer.new", c.IsNew()))

	if err := validate(&c); err != nil {
		s.notify(failureMessage(err, msgSaveFailed), domain.NotifyError)
		return nil, err
	}

	c.TenantID = tenant
	c.CreatedBy = tenant
	c.IsDeleted = false

	start := time.Now()
	saved, err := s.store.Save(ctx, &c)
	s.recordDuration("customers.save", start)
	s.countOp("save", err)
	if err != nil {
		s.logger.Error("customers: save failed",
			zap.String("tenant_id", tenant),
			zap.String("customer_id", c.ID),
			zap.Error(err),
		)
		s.notify(failureMessage(err, msgSaveFailed), domain.NotifyError)
		return nil, err
	}

	if c.IsNew() {
		s.notify(msgCreated, domain.NotifySuccess)
	} else {
		s.notify(msgUpdated, domain.NotifySuccess)
	}

	// Full reload instead of a local patch; the list shows stale data until
	// it completes.
	_ = s.LoadAll(ctx, tenant)
	return saved, nil
}

// HardDelete irreversibly removes a customer of the active tenant and drops
// it from the local list without reloading. The backend enforces that the
// record belongs to the tenant.
func (s *Synchronizer) HardDelete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Customers.HardDelete")
	defer span.End()
	span.SetAttributes(attribute.String("customer.id", id))

	tenant := s.TenantID()
	if tenant == "" {
		s.notify(msgNoSession, domain.NotifyError)
		return &domain.ErrNoSession{}
	}

	start := time.Now()
	err := s.store.HardDelete(ctx, id, tenant)
	s.recordDuration("customers.delete", start)
	s.countOp("delete", err)
	if err != nil {
		s.logger.Warn("customers: delete failed",
			zap.String("tenant_id", tenant),
			zap.String("customer_id", id),
			zap.Error(err),
		)
		s.notify(failureMessage(err, msgDeleteFailed), domain.NotifyError)
		return err
	}

	s.mu.Lock()
	var onChange func()
	if s.tenantID == tenant {
		kept := make([]domain.Customer, 0, len(s.customers))
		for _, c := range s.customers {
			if c.ID != id {
				kept = append(kept, c)
			}
		}
		s.replaceLocked(kept)
		onChange = s.onChange
	}
	s.mu.Unlock()

	s.logger.Info("customers: hard deleted",
		zap.String("tenant_id", tenant),
		zap.String("customer_id", id),
	)
	s.notify(msgDeleted, domain.NotifySuccess)
	if onChange != nil {
		onChange()
	}
	return nil
}

func (s *Synchronizer) replaceLocked(list []domain.Customer) {
	s.customers = list
	s.revision++
	if s.metrics != nil {
		s.metrics.SetCustomersInMemory(len(list))
	}
}

func (s *Synchronizer) notify(msg string, kind domain.NotificationKind) {
	if s.notifier != nil {
		s.notifier.Notify(msg, kind)
	}
}

func (s *Synchronizer) countOp(op string, err error) {
	if s.metrics == nil {
		return
	}
	if err != nil {
		s.metrics.IncrCustomerOp(op, "error")
		var ext *domain.ErrExternalService
		if errors.As(err, &ext) {
			s.metrics.IncrExternalError(ext.Service)
		}
		return
	}
	s.metrics.IncrCustomerOp(op, "success")
}

func (s *Synchronizer) recordDuration(op string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordDuration(op, time.Since(start))
	}
}

func validate(c *domain.Customer) error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return &domain.ErrValidation{Field: "name", Message: msgNameRequired}
	}
	if c.Status == "" {
		c.Status = domain.StatusActive
	}
	if !c.Status.Valid() {
		return &domain.ErrValidation{Field: "status", Message: msgInvalidStatus}
	}
	if c.RegistrationDate.IsZero() {
		c.RegistrationDate = time.Now()
	}
	return nil
}

// failureMessage picks the notification text for a failed operation.
func failureMessage(err error, fallback string) string {
	var (
		validation *domain.ErrValidation
		notFound   *domain.ErrNotFound
		forbidden  *domain.ErrForbidden
	)
	switch {
	case errors.As(err, &validation):
		return validation.Message
	case errors.As(err, &notFound):
		return msgNotFound
	case errors.As(err, &forbidden):
		return msgForbidden
	default:
		return fallback
	}
}
