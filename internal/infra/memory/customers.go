package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/boddenberg/pj-clientes-go/internal/domain"
	"github.com/boddenberg/pj-clientes-go/internal/port"

	"github.com/google/uuid"
)

// CustomerBackend keeps customers of every tenant in memory and enforces
// tenant ownership the way the database policies would.
type CustomerBackend struct {
	mu   sync.Mutex
	rows map[string]domain.Customer
	seq  map[string]int
	next int
	now  func() time.Time
}

// NewCustomerBackend creates an empty store.
func NewCustomerBackend() *CustomerBackend {
	return &CustomerBackend{
		rows: make(map[string]domain.Customer),
		seq:  make(map[string]int),
		now:  time.Now,
	}
}

var _ port.CustomerStore = (*CustomerBackend)(nil)

// Seed inserts records as-is, soft-deleted ones included.
func (b *CustomerBackend) Seed(customers ...domain.Customer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range customers {
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = b.now().UTC()
		}
		b.insertLocked(c)
	}
}

// FetchAll returns the tenant's live customers, newest first.
func (b *CustomerBackend) FetchAll(_ context.Context, tenantID string) ([]domain.Customer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]domain.Customer, 0)
	for _, c := range b.rows {
		if c.TenantID == tenantID && !c.IsDeleted {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return b.seq[out[i].ID] > b.seq[out[j].ID]
	})
	return out, nil
}

// Save inserts when ID is empty and updates otherwise.
func (b *CustomerBackend) Save(_ context.Context, c *domain.Customer) (*domain.Customer, error) {
	if c.TenantID == "" {
		return nil, &domain.ErrValidation{Field: "tenant_id", Message: "tenant é obrigatório"}
	}
	if c.Name == "" {
		return nil, &domain.ErrValidation{Field: "name", Message: "Nome é obrigatório."}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	saved := *c
	if saved.ID == "" {
		saved.ID = uuid.New().String()
		saved.CreatedAt = b.now().UTC()
		b.insertLocked(saved)
		return &saved, nil
	}

	existing, ok := b.rows[saved.ID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "customer", ID: saved.ID}
	}
	if existing.TenantID != saved.TenantID {
		return nil, &domain.ErrForbidden{Action: "update customer of another tenant"}
	}
	saved.CreatedAt = existing.CreatedAt
	b.rows[saved.ID] = saved
	return &saved, nil
}

// HardDelete removes a record permanently.
func (b *CustomerBackend) HardDelete(_ context.Context, id, tenantID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing, ok := b.rows[id]
	if !ok {
		return &domain.ErrNotFound{Resource: "customer", ID: id}
	}
	if existing.TenantID != tenantID {
		return &domain.ErrForbidden{Action: "delete customer of another tenant"}
	}
	delete(b.rows, id)
	delete(b.seq, id)
	return nil
}

func (b *CustomerBackend) insertLocked(c domain.Customer) {
	b.next++
	b.rows[c.ID] = c
	b.seq[c.ID] = b.next
}
