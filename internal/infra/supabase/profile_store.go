package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/boddenberg/pj-clientes-go/internal/domain"
	"github.com/boddenberg/pj-clientes-go/internal/infra/resilience"
	"github.com/boddenberg/pj-clientes-go/internal/port"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const profileCacheName = "profile"

// profileRow maps the profiles table.
type profileRow struct {
	ID              string `json:"id"`
	Email           string `json:"email"`
	CompanyName     string `json:"company_name"`
	ResponsibleName string `json:"responsible_name"`
	AcceptedTerms   bool   `json:"accepted_terms"`
	CreatedAt       string `json:"created_at"`
}

func (r profileRow) toDomain() *domain.Profile {
	return &domain.Profile{
		ID:              r.ID,
		Email:           r.Email,
		CompanyName:     r.CompanyName,
		ResponsibleName: r.ResponsibleName,
		AcceptedTerms:   r.AcceptedTerms,
		CreatedAt:       parseDate(r.CreatedAt),
	}
}

// ProfileStore reads tenant profiles, keyed by auth user id.
type ProfileStore struct {
	client *Client
	table  string
	cache  port.Cache[*domain.Profile]
}

// NewProfileStore creates a profile store. cache may be nil.
func NewProfileStore(client *Client, table string, cache port.Cache[*domain.Profile]) *ProfileStore {
	return &ProfileStore{client: client, table: table, cache: cache}
}

var _ port.ProfileFetcher = (*ProfileStore)(nil)

// GetProfile fetches the profile whose id is userID.
func (s *ProfileStore) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetProfile")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	if s.cache != nil {
		if p, ok := s.cache.Get(userID); ok {
			s.cacheHit(true)
			cp := *p
			return &cp, nil
		}
		s.cacheHit(false)
	}

	var profile *domain.Profile
	err := s.client.execute(ctx, "supabase/profile", func() error {
		path := query(s.table, eq("id", userID), "limit=1")
		body, err := s.client.doRequest(ctx, http.MethodGet, path, nil, "")
		if err != nil {
			return err
		}

		var rows []profileRow
		if err := json.Unmarshal(body, &rows); err != nil {
			return resilience.Permanent(fmt.Errorf("decode profile: %w", err))
		}
		if len(rows) == 0 {
			return resilience.Permanent(&domain.ErrNotFound{Resource: "profile", ID: userID})
		}
		profile = rows[0].toDomain()
		return nil
	})
	if err != nil {
		span.RecordError(err)
		s.client.logger.Warn("supabase: profile lookup failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil, err
	}

	if s.cache != nil {
		cp := *profile
		s.cache.Set(userID, &cp)
	}
	return profile, nil
}

// Forget drops a cached profile, e.g. on sign-out.
func (s *ProfileStore) Forget(userID string) {
	if s.cache != nil {
		s.cache.Delete(userID)
	}
}

func (s *ProfileStore) cacheHit(hit bool) {
	m := s.client.metrics
	if m == nil {
		return
	}
	if hit {
		m.IncrCacheHit(profileCacheName)
	} else {
		m.IncrCacheMiss(profileCacheName)
	}
}
