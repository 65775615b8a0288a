package customers_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/boddenberg/pj-clientes-go/internal/customers"
	"github.com/boddenberg/pj-clientes-go/internal/domain"
	"github.com/boddenberg/pj-clientes-go/internal/infra/memory"
	"github.com/boddenberg/pj-clientes-go/internal/infra/observability"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- Fakes ---

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (n *recordingNotifier) Notify(message string, kind domain.NotificationKind) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, domain.Notification{Message: message, Kind: kind})
}

func (n *recordingNotifier) last() domain.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return domain.Notification{}
	}
	return n.sent[len(n.sent)-1]
}

// countingStore wraps the in-memory backend to count and fail calls.
type countingStore struct {
	*memory.CustomerBackend

	mu         sync.Mutex
	fetches    int
	saves      int
	fetchErr   error
	fetchGate  chan struct{}
	fetchEnter chan struct{}
}

func (s *countingStore) FetchAll(ctx context.Context, tenantID string) ([]domain.Customer, error) {
	s.mu.Lock()
	s.fetches++
	err := s.fetchErr
	gate, enter := s.fetchGate, s.fetchEnter
	s.mu.Unlock()

	if enter != nil {
		enter <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return s.CustomerBackend.FetchAll(ctx, tenantID)
}

func (s *countingStore) Save(ctx context.Context, c *domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	s.saves++
	s.mu.Unlock()
	return s.CustomerBackend.Save(ctx, c)
}

func (s *countingStore) counts() (fetches, saves int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches, s.saves
}

// --- Helpers ---

const tenant = "tenant-1"

func loggedIn(id string) domain.Session {
	return domain.Session{IsLoggedIn: true, Profile: &domain.Profile{ID: id}, ProfileStatus: domain.ProfileLoaded}
}

func setup(t *testing.T) (*customers.Synchronizer, *countingStore, *recordingNotifier, func(domain.Session)) {
	t.Helper()
	store := &countingStore{CustomerBackend: memory.NewCustomerBackend()}
	store.Seed(
		domain.Customer{ID: "c1", TenantID: tenant, Name: "Ana", Phone: "11999", Status: domain.StatusActive},
		domain.Customer{ID: "c2", TenantID: tenant, Name: "Bob", Phone: "22888", Status: domain.StatusPending},
		domain.Customer{ID: "x1", TenantID: "tenant-2", Name: "Outro"},
	)
	notifier := &recordingNotifier{}
	syncer := customers.NewSynchronizer(store, notifier, observability.NewMetrics(), zap.NewNop())
	listen := syncer.SessionListener(context.Background())
	return syncer, store, notifier, listen
}

func ids(list []domain.Customer) []string {
	out := make([]string, 0, len(list))
	for _, c := range list {
		out = append(out, c.ID)
	}
	return out
}

// --- Tests ---

func TestSynchronizer_LoadsOnNewTenant(t *testing.T) {
	syncer, store, _, listen := setup(t)

	listen(loggedIn(tenant))
	syncer.Wait()

	list, _ := syncer.Customers()
	require.ElementsMatch(t, []string{"c1", "c2"}, ids(list))
	fetches, _ := store.counts()
	require.Equal(t, 1, fetches)
}

func TestSynchronizer_SameTenantDoesNotReload(t *testing.T) {
	syncer, store, _, listen := setup(t)

	listen(loggedIn(tenant))
	syncer.Wait()
	// Token refresh: same identity, new snapshot.
	listen(loggedIn(tenant))
	syncer.Wait()

	fetches, _ := store.counts()
	require.Equal(t, 1, fetches)
}

func TestSynchronizer_UnavailableProfileDoesNotLoad(t *testing.T) {
	syncer, store, _, listen := setup(t)

	listen(domain.Session{IsLoggedIn: true, ProfileStatus: domain.ProfileUnavailable})
	syncer.Wait()

	fetches, _ := store.counts()
	require.Equal(t, 0, fetches)
}

func TestSynchronizer_LogoutEmptiesList(t *testing.T) {
	syncer, _, _, listen := setup(t)
	listen(loggedIn(tenant))
	syncer.Wait()

	listen(domain.Session{})

	list, _ := syncer.Customers()
	require.Empty(t, list)
	require.Empty(t, syncer.TenantID())
}

func TestSynchronizer_TenantSwitchReplacesList(t *testing.T) {
	syncer, _, _, listen := setup(t)
	listen(loggedIn(tenant))
	syncer.Wait()

	listen(loggedIn("tenant-2"))
	syncer.Wait()

	list, _ := syncer.Customers()
	require.Equal(t, []string{"x1"}, ids(list))
}

func TestSynchronizer_LoadFailureKeepsPreviousList(t *testing.T) {
	syncer, store, notifier, listen := setup(t)
	listen(loggedIn(tenant))
	syncer.Wait()
	before, rev := syncer.Customers()

	store.mu.Lock()
	store.fetchErr = &domain.ErrExternalService{Service: "supabase/customers", Err: errors.New("timeout")}
	store.mu.Unlock()

	err := syncer.LoadAll(context.Background(), tenant)
	require.Error(t, err)

	after, revAfter := syncer.Customers()
	require.Equal(t, before, after)
	require.Equal(t, rev, revAfter)
	require.Equal(t, domain.NotifyError, notifier.last().Kind)
}

func TestSynchronizer_StaleLoadIsDiscarded(t *testing.T) {
	syncer, store, _, listen := setup(t)

	store.mu.Lock()
	store.fetchGate = make(chan struct{})
	store.fetchEnter = make(chan struct{}, 1)
	store.mu.Unlock()

	listen(loggedIn(tenant))
	<-store.fetchEnter

	// Logged out while the load was in flight.
	listen(domain.Session{})
	close(store.fetchGate)
	syncer.Wait()

	list, _ := syncer.Customers()
	require.Empty(t, list)
}

func TestSynchronizer_SaveNewAppearsOnce(t *testing.T) {
	syncer, store, notifier, listen := setup(t)
	listen(loggedIn(tenant))
	syncer.Wait()

	saved, err := syncer.Save(context.Background(), domain.Customer{
		Name:      "Carla",
		Phone:     "33777",
		Status:    domain.StatusActive,
		TenantID:  "someone-else",
		CreatedBy: "someone-else",
		IsDeleted: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)
	require.Equal(t, tenant, saved.TenantID)
	require.Equal(t, tenant, saved.CreatedBy)
	require.False(t, saved.IsDeleted)

	list, _ := syncer.Customers()
	count := 0
	for _, c := range list {
		if c.ID == saved.ID {
			count++
		}
	}
	require.Equal(t, 1, count)
	require.Len(t, list, 3)

	fetches, _ := store.counts()
	require.Equal(t, 2, fetches, "save triggers a full reload")
	require.Equal(t, domain.NotifySuccess, notifier.last().Kind)
}

func TestSynchronizer_SaveUpdatesExisting(t *testing.T) {
	syncer, _, notifier, listen := setup(t)
	listen(loggedIn(tenant))
	syncer.Wait()

	_, err := syncer.Save(context.Background(), domain.Customer{ID: "c2", Name: "Bob Jr", Status: domain.StatusActive})
	require.NoError(t, err)

	list, _ := syncer.Customers()
	require.Len(t, list, 2)
	for _, c := range list {
		if c.ID == "c2" {
			require.Equal(t, "Bob Jr", c.Name)
		}
	}
	require.Equal(t, "Cliente atualizado com sucesso!", notifier.last().Message)
}

func TestSynchronizer_SaveValidatesLocally(t *testing.T) {
	syncer, store, notifier, listen := setup(t)
	listen(loggedIn(tenant))
	syncer.Wait()

	_, err := syncer.Save(context.Background(), domain.Customer{Name: "  "})
	var validation *domain.ErrValidation
	require.True(t, errors.As(err, &validation))

	_, err = syncer.Save(context.Background(), domain.Customer{Name: "Ana", Status: "archived"})
	require.True(t, errors.As(err, &validation))

	_, saves := store.counts()
	require.Equal(t, 0, saves)
	require.Equal(t, domain.NotifyError, notifier.last().Kind)
}

func TestSynchronizer_SaveWithoutSession(t *testing.T) {
	syncer, _, notifier, _ := setup(t)

	_, err := syncer.Save(context.Background(), domain.Customer{Name: "Ana"})
	var noSession *domain.ErrNoSession
	require.True(t, errors.As(err, &noSession))
	require.Equal(t, domain.NotifyError, notifier.last().Kind)
}

func TestSynchronizer_HardDeleteRemovesLocally(t *testing.T) {
	syncer, store, notifier, listen := setup(t)
	listen(loggedIn(tenant))
	syncer.Wait()

	require.NoError(t, syncer.HardDelete(context.Background(), "c1"))

	list, _ := syncer.Customers()
	require.Equal(t, []string{"c2"}, ids(list))

	remote, err := store.CustomerBackend.FetchAll(context.Background(), tenant)
	require.NoError(t, err)
	require.Equal(t, []string{"c2"}, ids(remote))

	fetches, _ := store.counts()
	require.Equal(t, 1, fetches, "delete must not reload")
	require.Equal(t, "Cliente excluído permanentemente.", notifier.last().Message)
}

func TestSynchronizer_HardDeleteMissingLeavesList(t *testing.T) {
	syncer, _, notifier, listen := setup(t)
	listen(loggedIn(tenant))
	syncer.Wait()
	before, _ := syncer.Customers()

	err := syncer.HardDelete(context.Background(), "nope")
	var notFound *domain.ErrNotFound
	require.True(t, errors.As(err, &notFound))

	after, _ := syncer.Customers()
	require.Equal(t, before, after)
	require.Equal(t, "Cliente não encontrado.", notifier.last().Message)
}

func TestSynchronizer_HardDeleteOtherTenantIsForbidden(t *testing.T) {
	syncer, _, notifier, listen := setup(t)
	listen(loggedIn(tenant))
	syncer.Wait()

	err := syncer.HardDelete(context.Background(), "x1")
	var forbidden *domain.ErrForbidden
	require.True(t, errors.As(err, &forbidden))
	require.Equal(t, domain.NotifyError, notifier.last().Kind)
}

func TestSynchronizer_OnChangeFiresOnReplacement(t *testing.T) {
	syncer, _, _, listen := setup(t)

	var (
		mu    sync.Mutex
		calls int
	)
	syncer.OnChange(func() {
		mu.Lock()
		defer mu.Unlock()
		calls++
	})

	listen(loggedIn(tenant))
	syncer.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 2, calls, "cleared on tenant switch, then loaded")
}

func TestSynchronizer_FailedLoadForInactiveTenantIsSilent(t *testing.T) {
	syncer, store, notifier, listen := setup(t)
	enter := make(chan struct{}, 1)
	gate := make(chan struct{})
	store.mu.Lock()
	store.fetchErr = errors.New("connection reset")
	store.fetchEnter = enter
	store.fetchGate = gate
	store.mu.Unlock()

	listen(loggedIn(tenant))
	<-enter
	listen(domain.Session{})
	close(gate)
	syncer.Wait()

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	for _, n := range notifier.sent {
		require.NotEqual(t, "Erro ao carregar clientes.", n.Message)
	}
}
