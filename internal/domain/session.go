package domain

import "time"

// ============================================================
// Session / Profile
// ============================================================

// Profile identifies the tenant (the company account).
type Profile struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	CompanyName     string    `json:"company_name"`
	ResponsibleName string    `json:"responsible_name"`
	AcceptedTerms   bool      `json:"accepted_terms"`
	CreatedAt       time.Time `json:"created_at"`
}

// ProfileStatus tells whether the profile of a logged-in session could be read.
type ProfileStatus string

const (
	ProfileNone        ProfileStatus = ""
	ProfileLoaded      ProfileStatus = "loaded"
	ProfileUnavailable ProfileStatus = "unavailable"
)

// Session is the client's authentication state. Exactly one exists per
// running client, owned by the session store.
type Session struct {
	IsLoggedIn     bool          `json:"isLoggedIn"`
	IsInitializing bool          `json:"isInitializing"`
	Profile        *Profile      `json:"profile,omitempty"`
	ProfileStatus  ProfileStatus `json:"profileStatus,omitempty"`
}

// TenantID returns the active tenant id, or "" when no profile is loaded.
func (s Session) TenantID() string {
	if !s.IsLoggedIn || s.Profile == nil {
		return ""
	}
	return s.Profile.ID
}

// AuthSession is the token pair the auth backend hands out.
type AuthSession struct {
	UserID       string    `json:"user_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// SignUpRequest carries the registration form.
type SignUpRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	CompanyName     string `json:"companyName"`
	ResponsibleName string `json:"responsibleName"`
	AcceptedTerms   bool   `json:"acceptedTerms"`
}

// ============================================================
// Auth events
// ============================================================

// AuthEventType enumerates the auth state changes delivered by the backend.
type AuthEventType string

const (
	EventSignedIn       AuthEventType = "SIGNED_IN"
	EventSignedOut      AuthEventType = "SIGNED_OUT"
	EventUserDeleted    AuthEventType = "USER_DELETED"
	EventTokenRefreshed AuthEventType = "TOKEN_REFRESHED"
)

// AuthEvent is a single auth state change. UserID is empty for sign-out events.
type AuthEvent struct {
	Type   AuthEventType
	UserID string
}
