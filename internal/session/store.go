// Package session owns the client's authentication state. It is driven by the
// auth backend's event stream plus explicit sign-in, sign-up and sign-out calls.
//
// State machine:
//
//	Initializing ──► LoggedOut
//	     │
//	     └────────► LoggedIn(Loaded | Unavailable)
//
// SignedIn fetches the profile; TokenRefreshed only confirms the login;
// SignedOut and UserDeleted return to LoggedOut.
package session

import (
	"context"
	"strings"
	"sync"

	"github.com/boddenberg/pj-clientes-go/internal/domain"
	"github.com/boddenberg/pj-clientes-go/internal/infra/observability"
	"github.com/boddenberg/pj-clientes-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("session")

// Listener observes every committed session change, in commit order.
type Listener func(domain.Session)

// Store is the only writer of the Session.
type Store struct {
	auth    port.AuthService
	metrics *observability.Metrics
	logger  *zap.Logger

	mu        sync.Mutex
	state     domain.Session
	alive     bool
	listeners []Listener

	sub  port.Subscription
	done chan struct{}
}

// NewStore creates a store in the Initializing state.
func NewStore(auth port.AuthService, metrics *observability.Metrics, logger *zap.Logger) *Store {
	return &Store{
		auth:    auth,
		metrics: metrics,
		logger:  logger,
		state:   domain.Session{IsInitializing: true},
		alive:   true,
	}
}

// OnChange registers a listener. Listeners run on the goroutine that
// committed the change, outside the store lock, and must not block.
func (s *Store) OnChange(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Snapshot returns a copy of the current session.
func (s *Store) Snapshot() domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copySession(s.state)
}

// Start subscribes to auth events, resolves the initial session and then
// consumes events on a single goroutine until ctx is done or Stop is called.
// Events delivered while the initial session resolves are buffered by the
// subscription and handled afterwards, in order.
func (s *Store) Start(ctx context.Context) {
	s.sub = s.auth.Subscribe()
	s.done = make(chan struct{})

	s.initialize(ctx)

	go s.run(ctx)
}

// Stop revokes the subscription. Once it returns no event mutates the
// session anymore.
func (s *Store) Stop() {
	s.mu.Lock()
	s.alive = false
	s.mu.Unlock()

	if s.sub != nil {
		s.sub.Cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

func (s *Store) initialize(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "Session.Initialize")
	defer span.End()

	active, err := s.auth.GetActiveSession(ctx)
	if err != nil {
		s.logger.Warn("session: active session lookup failed, starting logged out", zap.Error(err))
	}
	if err != nil || active == nil {
		s.commit(func(st *domain.Session) {
			*st = domain.Session{}
		})
		return
	}

	span.SetAttributes(attribute.String("user.id", active.UserID))
	profile, status := s.resolveProfile(ctx, active.UserID)
	s.commit(func(st *domain.Session) {
		*st = domain.Session{IsLoggedIn: true, Profile: profile, ProfileStatus: status}
	})
}

func (s *Store) run(ctx context.Context) {
	defer close(s.done)

	events := s.sub.Events()
	for {
		select {
		case <-ctx.Done():
			s.sub.Cancel()
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handle(ctx, ev)
		}
	}
}

func (s *Store) handle(ctx context.Context, ev domain.AuthEvent) {
	if !s.isAlive() {
		return
	}
	if s.metrics != nil {
		s.metrics.IncrAuthEvent(ev.Type)
	}
	s.logger.Debug("session: auth event",
		zap.String("event", string(ev.Type)),
		zap.String("user_id", ev.UserID),
	)

	switch ev.Type {
	case domain.EventSignedIn:
		ctx, span := tracer.Start(ctx, "Session.SignedIn")
		span.SetAttributes(attribute.String("user.id", ev.UserID))
		profile, status := s.resolveProfile(ctx, ev.UserID)
		span.End()

		s.commit(func(st *domain.Session) {
			*st = domain.Session{IsLoggedIn: true, Profile: profile, ProfileStatus: status}
		})

	case domain.EventSignedOut, domain.EventUserDeleted:
		s.commit(func(st *domain.Session) {
			*st = domain.Session{}
		})

	case domain.EventTokenRefreshed:
		// A refresh never logs anyone in; only SignedIn loads a profile.
		if !s.Snapshot().IsLoggedIn {
			s.logger.Debug("session: ignoring token refresh while logged out", zap.String("user_id", ev.UserID))
			return
		}
		// Same identity: keep the loaded profile, only confirm the login.
		s.commit(func(st *domain.Session) {
			st.IsLoggedIn = true
			st.IsInitializing = false
		})

	default:
		s.logger.Warn("session: ignoring unknown auth event", zap.String("event", string(ev.Type)))
	}
}

// resolveProfile never fails: a lookup error leaves the user authenticated
// with an unavailable profile, not retried until the next initialization.
func (s *Store) resolveProfile(ctx context.Context, userID string) (*domain.Profile, domain.ProfileStatus) {
	profile, err := s.auth.GetProfile(ctx, userID)
	if err != nil || profile == nil {
		s.logger.Warn("session: profile unavailable",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		if s.metrics != nil {
			s.metrics.IncrExternalError("profile")
		}
		return nil, domain.ProfileUnavailable
	}
	return profile, domain.ProfileLoaded
}

// commit applies fn to the session and notifies listeners. It is a no-op
// once the store has been stopped.
func (s *Store) commit(fn func(*domain.Session)) {
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return
	}
	fn(&s.state)
	snapshot := copySession(s.state)
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		l(snapshot)
	}
}

func (s *Store) isAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

// ============================================================
// User actions
// ============================================================

// SignIn delegates to the auth backend. It does not log the user in by
// itself: the SignedIn event that follows does.
func (s *Store) SignIn(ctx context.Context, email, password string) error {
	ctx, span := tracer.Start(ctx, "Session.SignIn")
	defer span.End()

	email = strings.TrimSpace(email)
	if email == "" {
		return &domain.ErrValidation{Field: "email", Message: "E-mail é obrigatório"}
	}
	if password == "" {
		return &domain.ErrValidation{Field: "password", Message: "Senha é obrigatória"}
	}

	if err := s.auth.SignIn(ctx, email, password); err != nil {
		s.logger.Warn("session: sign-in failed", zap.String("email", email), zap.Error(err))
		return err
	}
	return nil
}

// SignUp registers a new tenant. Terms acceptance is checked locally before
// any backend call. A successful sign-up does not log the user in; e-mail
// confirmation may still be required.
func (s *Store) SignUp(ctx context.Context, req *domain.SignUpRequest) error {
	if !req.AcceptedTerms {
		return &domain.ErrValidation{Field: "acceptedTerms", Message: "É necessário aceitar os termos de uso"}
	}

	ctx, span := tracer.Start(ctx, "Session.SignUp")
	defer span.End()

	if err := s.auth.SignUp(ctx, req); err != nil {
		s.logger.Warn("session: sign-up failed", zap.String("email", req.Email), zap.Error(err))
		return err
	}

	s.logger.Info("session: tenant registered", zap.String("email", req.Email))
	return nil
}

// SignOut delegates to the auth backend. State is cleared by the SignedOut
// event, not here.
func (s *Store) SignOut(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Session.SignOut")
	defer span.End()

	if err := s.auth.SignOut(ctx); err != nil {
		s.logger.Warn("session: sign-out failed", zap.Error(err))
		return err
	}
	return nil
}

func copySession(st domain.Session) domain.Session {
	if st.Profile != nil {
		p := *st.Profile
		st.Profile = &p
	}
	return st
}
