package domain

import "time"

// ============================================================
// Customer
// ============================================================

// CustomerStatus is the lifecycle status shown on the customer badge.
type CustomerStatus string

const (
	StatusActive   CustomerStatus = "active"
	StatusInactive CustomerStatus = "inactive"
	StatusPending  CustomerStatus = "pending"
)

// Valid reports whether s is one of the known statuses.
func (s CustomerStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusPending:
		return true
	}
	return false
}

// Customer is a record owned by exactly one tenant. ID is empty until persisted.
type Customer struct {
	ID               string         `json:"id,omitempty"`
	TenantID         string         `json:"tenant_id"`
	Name             string         `json:"name"`
	Phone            string         `json:"phone"`
	Email            string         `json:"email"`
	RegistrationDate time.Time      `json:"registration_date"`
	Status           CustomerStatus `json:"status"`
	Observations     string         `json:"observations"`
	IsDeleted        bool           `json:"is_deleted"`
	CreatedAt        time.Time      `json:"created_at,omitempty"`
	CreatedBy        string         `json:"created_by"`
}

// IsNew reports whether the record has not been persisted yet.
func (c Customer) IsNew() bool {
	return c.ID == ""
}

// AppStats is derived from the current customer list. Inactive is the
// complement of Active, so pending customers are counted as inactive.
type AppStats struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
}

// ============================================================
// Notification
// ============================================================

// NotificationKind selects how a notification is rendered.
type NotificationKind string

const (
	NotifySuccess NotificationKind = "success"
	NotifyError   NotificationKind = "error"
)

// Notification is a transient user-facing message.
type Notification struct {
	Message   string           `json:"message"`
	Kind      NotificationKind `json:"type"`
	ExpiresAt time.Time        `json:"expiresAt"`
}
