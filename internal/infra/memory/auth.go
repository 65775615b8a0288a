// Package memory provides in-process auth and customer backends, used for
// local development (USE_SUPABASE=false) and tests.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/boddenberg/pj-clientes-go/internal/domain"
	"github.com/boddenberg/pj-clientes-go/internal/infra/events"
	"github.com/boddenberg/pj-clientes-go/internal/port"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 6

type account struct {
	passwordHash []byte
	profile      domain.Profile
}

// AuthBackend keeps accounts in memory and issues HS256 access tokens.
type AuthBackend struct {
	hub        *events.Hub
	secret     []byte
	accessTTL  time.Duration
	bcryptCost int
	logger     *zap.Logger
	now        func() time.Time

	mu       sync.Mutex
	accounts map[string]*account // by e-mail
	byID     map[string]*account
	current  *domain.AuthSession
}

// NewAuthBackend creates an empty backend. bcryptCost <= 0 uses bcrypt.DefaultCost.
func NewAuthBackend(secret string, accessTTL time.Duration, bcryptCost int, logger *zap.Logger) *AuthBackend {
	if bcryptCost <= 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &AuthBackend{
		hub:        events.NewHub(),
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		bcryptCost: bcryptCost,
		logger:     logger,
		now:        time.Now,
		accounts:   make(map[string]*account),
		byID:       make(map[string]*account),
	}
}

var _ port.AuthService = (*AuthBackend)(nil)

// Subscribe returns a subscription to this backend's auth events.
func (b *AuthBackend) Subscribe() port.Subscription {
	return b.hub.Subscribe()
}

// GetActiveSession returns the signed-in session if its token is still valid.
func (b *AuthBackend) GetActiveSession(_ context.Context) (*domain.AuthSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current == nil {
		return nil, nil
	}
	if _, err := b.verify(b.current.AccessToken); err != nil {
		b.logger.Debug("memory auth: stored session expired", zap.Error(err))
		b.current = nil
		return nil, nil
	}
	s := *b.current
	return &s, nil
}

// GetProfile returns the tenant profile of userID.
func (b *AuthBackend) GetProfile(_ context.Context, userID string) (*domain.Profile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	acc, ok := b.byID[userID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "profile", ID: userID}
	}
	p := acc.profile
	return &p, nil
}

// SignUp creates an account. It does not sign the user in.
func (b *AuthBackend) SignUp(_ context.Context, req *domain.SignUpRequest) error {
	email := normalizeEmail(req.Email)
	if email == "" {
		return &domain.ErrValidation{Field: "email", Message: "E-mail é obrigatório"}
	}
	if len(req.Password) < minPasswordLength {
		return &domain.ErrValidation{Field: "password", Message: fmt.Sprintf("Senha deve ter ao menos %d caracteres", minPasswordLength)}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), b.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.accounts[email]; exists {
		return &domain.ErrConflict{Message: "e-mail já cadastrado"}
	}

	acc := &account{
		passwordHash: hash,
		profile: domain.Profile{
			ID:              uuid.New().String(),
			Email:           email,
			CompanyName:     req.CompanyName,
			ResponsibleName: req.ResponsibleName,
			AcceptedTerms:   req.AcceptedTerms,
			CreatedAt:       b.now().UTC(),
		},
	}
	b.accounts[email] = acc
	b.byID[acc.profile.ID] = acc

	b.logger.Info("memory auth: account created",
		zap.String("user_id", acc.profile.ID),
		zap.String("email", email),
	)
	return nil
}

// SignIn checks the password, stores a new session and emits SignedIn.
func (b *AuthBackend) SignIn(_ context.Context, email, password string) error {
	email = normalizeEmail(email)

	b.mu.Lock()
	acc, ok := b.accounts[email]
	if !ok {
		b.mu.Unlock()
		return &domain.ErrUnauthorized{Message: "credenciais inválidas"}
	}
	if err := bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(password)); err != nil {
		b.mu.Unlock()
		b.logger.Warn("memory auth: failed password attempt", zap.String("email", email))
		return &domain.ErrUnauthorized{Message: "credenciais inválidas"}
	}

	sess, err := b.issue(acc.profile.ID)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	b.current = sess
	b.mu.Unlock()

	b.hub.Publish(domain.AuthEvent{Type: domain.EventSignedIn, UserID: acc.profile.ID})
	return nil
}

// SignOut drops the session and emits SignedOut.
func (b *AuthBackend) SignOut(_ context.Context) error {
	b.mu.Lock()
	b.current = nil
	b.mu.Unlock()

	b.hub.Publish(domain.AuthEvent{Type: domain.EventSignedOut})
	return nil
}

// RefreshSession re-issues the access token of the current session and
// emits TokenRefreshed.
func (b *AuthBackend) RefreshSession(_ context.Context) error {
	b.mu.Lock()
	if b.current == nil {
		b.mu.Unlock()
		return &domain.ErrUnauthorized{Message: "sem sessão ativa"}
	}
	sess, err := b.issue(b.current.UserID)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	b.current = sess
	b.mu.Unlock()

	b.hub.Publish(domain.AuthEvent{Type: domain.EventTokenRefreshed, UserID: sess.UserID})
	return nil
}

// DeleteUser removes an account and emits UserDeleted when it was signed in.
func (b *AuthBackend) DeleteUser(_ context.Context, userID string) error {
	b.mu.Lock()
	acc, ok := b.byID[userID]
	if !ok {
		b.mu.Unlock()
		return &domain.ErrNotFound{Resource: "user", ID: userID}
	}
	delete(b.byID, userID)
	delete(b.accounts, acc.profile.Email)
	signedIn := b.current != nil && b.current.UserID == userID
	if signedIn {
		b.current = nil
	}
	b.mu.Unlock()

	if signedIn {
		b.hub.Publish(domain.AuthEvent{Type: domain.EventUserDeleted, UserID: userID})
	}
	return nil
}

// issue signs an access token for userID. Callers hold b.mu.
func (b *AuthBackend) issue(userID string) (*domain.AuthSession, error) {
	now := b.now()
	expiresAt := now.Add(b.accessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		ID:        uuid.New().String(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	return &domain.AuthSession{
		UserID:       userID,
		AccessToken:  token,
		RefreshToken: uuid.New().String(),
		ExpiresAt:    expiresAt,
	}, nil
}

func (b *AuthBackend) verify(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return b.secret, nil
	}, jwt.WithTimeFunc(b.now))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
