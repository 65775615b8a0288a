// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the session and
// customer state machines from the concrete auth and persistence backends.
package port

import (
	"context"

	"github.com/boddenberg/pj-clientes-go/internal/domain"
)

// Subscription is a cancellable stream of auth events. Events are delivered
// in the order the backend produced them. After Cancel returns the channel
// is closed and no further events are delivered.
type Subscription interface {
	Events() <-chan domain.AuthEvent
	Cancel()
}

// ProfileFetcher retrieves the tenant profile for an authenticated user.
type ProfileFetcher interface {
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)
}

// AuthService is the external auth/profile collaborator.
type AuthService interface {
	ProfileFetcher

	// GetActiveSession returns the persisted session, or nil when there is none.
	GetActiveSession(ctx context.Context) (*domain.AuthSession, error)
	SignIn(ctx context.Context, email, password string) error
	SignUp(ctx context.Context, req *domain.SignUpRequest) error
	SignOut(ctx context.Context) error
	Subscribe() Subscription
}

// CustomerStore is the external customer persistence collaborator.
// Every call is scoped by tenant; authorization is enforced by the store.
type CustomerStore interface {
	// FetchAll excludes soft-deleted records and records of other tenants.
	FetchAll(ctx context.Context, tenantID string) ([]domain.Customer, error)
	// Save creates when customer.ID is empty and updates by id otherwise.
	Save(ctx context.Context, customer *domain.Customer) (*domain.Customer, error)
	HardDelete(ctx context.Context, id, tenantID string) error
}

// Notifier publishes user-facing messages.
type Notifier interface {
	Notify(message string, kind domain.NotificationKind)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
