package supabase

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/boddenberg/pj-clientes-go/internal/domain"
	"github.com/boddenberg/pj-clientes-go/internal/infra/resilience"
)

// ============================================================
// Error mapping
// ============================================================

// postgrestError is the error body PostgREST returns.
type postgrestError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

// statusError maps a non-2xx answer. 4xx answers are permanent and carry a
// domain error; 5xx answers stay retryable.
func statusError(status int, body []byte) error {
	var pgErr postgrestError
	_ = json.Unmarshal(body, &pgErr)
	msg := pgErr.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}

	switch {
	case status == http.StatusUnauthorized:
		return resilience.Permanent(&domain.ErrUnauthorized{Message: msg})
	case status == http.StatusForbidden || pgErr.Code == "42501":
		return resilience.Permanent(&domain.ErrForbidden{Action: msg})
	case status == http.StatusNotFound:
		return resilience.Permanent(&domain.ErrNotFound{Resource: "row", ID: msg})
	case status == http.StatusConflict:
		return resilience.Permanent(&domain.ErrConflict{Message: msg})
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return resilience.Permanent(&domain.ErrValidation{Field: pgErr.Details, Message: msg})
	case status >= 400 && status < 500:
		return resilience.Permanent(fmt.Errorf("supabase returned status %d: %s", status, msg))
	default:
		return fmt.Errorf("supabase returned status %d: %s", status, msg)
	}
}

// asDomainError unwraps err to the domain error it carries, if any.
func asDomainError(err error) error {
	var (
		notFound     *domain.ErrNotFound
		forbidden    *domain.ErrForbidden
		validation   *domain.ErrValidation
		conflict     *domain.ErrConflict
		unauthorized *domain.ErrUnauthorized
	)
	switch {
	case errors.As(err, &notFound):
		return notFound
	case errors.As(err, &forbidden):
		return forbidden
	case errors.As(err, &validation):
		return validation
	case errors.As(err, &conflict):
		return conflict
	case errors.As(err, &unauthorized):
		return unauthorized
	}
	return nil
}

// ============================================================
// Query helpers
// ============================================================

// eq renders a PostgREST equality filter with an escaped value.
func eq(column, value string) string {
	return column + "=eq." + url.QueryEscape(value)
}

// query joins a table name with filters and modifiers.
func query(table string, parts ...string) string {
	if len(parts) == 0 {
		return table
	}
	return table + "?" + strings.Join(parts, "&")
}

// parseDate accepts a Postgres date or timestamp.
func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02T15:04:05.999999", s); err == nil {
		return t
	}
	t, _ := time.Parse("2006-01-02", s)
	return t
}
