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

// customerRow maps the customers table. registration_date is a Postgres date.
type customerRow struct {
	ID               string `json:"id,omitempty"`
	TenantID         string `json:"tenant_id"`
	Name             string `json:"name"`
	Phone            string `json:"phone"`
	Email            string `json:"email"`
	RegistrationDate string `json:"registration_date,omitempty"`
	Status           string `json:"status"`
	Observations     string `json:"observations"`
	IsDeleted        bool   `json:"is_deleted"`
	CreatedAt        string `json:"created_at,omitempty"`
	CreatedBy        string `json:"created_by"`
}

func (r customerRow) toDomain() domain.Customer {
	return domain.Customer{
		ID:               r.ID,
		TenantID:         r.TenantID,
		Name:             r.Name,
		Phone:            r.Phone,
		Email:            r.Email,
		RegistrationDate: parseDate(r.RegistrationDate),
		Status:           domain.CustomerStatus(r.Status),
		Observations:     r.Observations,
		IsDeleted:        r.IsDeleted,
		CreatedAt:        parseDate(r.CreatedAt),
		CreatedBy:        r.CreatedBy,
	}
}

// writeRow is the payload of insert and update. id and created_at are
// assigned by the database.
func writeRow(c *domain.Customer) customerRow {
	row := customerRow{
		TenantID:     c.TenantID,
		Name:         c.Name,
		Phone:        c.Phone,
		Email:        c.Email,
		Status:       string(c.Status),
		Observations: c.Observations,
		IsDeleted:    c.IsDeleted,
		CreatedBy:    c.CreatedBy,
	}
	if !c.RegistrationDate.IsZero() {
		row.RegistrationDate = c.RegistrationDate.Format("2006-01-02")
	}
	return row
}

// CustomerStore persists customers in the customers table.
type CustomerStore struct {
	client *Client
	table  string
}

// NewCustomerStore creates a customer store over table.
func NewCustomerStore(client *Client, table string) *CustomerStore {
	return &CustomerStore{client: client, table: table}
}

var _ port.CustomerStore = (*CustomerStore)(nil)

// FetchAll returns the tenant's live customers, newest first.
func (s *CustomerStore) FetchAll(ctx context.Context, tenantID string) ([]domain.Customer, error) {
	ctx, span := tracer.Start(ctx, "Supabase.FetchCustomers")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	var customers []domain.Customer
	err := s.client.execute(ctx, "supabase/customers", func() error {
		path := query(s.table,
			"select=*",
			eq("tenant_id", tenantID),
			"is_deleted=eq.false",
			"order=created_at.desc",
		)
		body, err := s.client.doRequest(ctx, http.MethodGet, path, nil, "")
		if err != nil {
			return err
		}
		rows, err := decodeRows(body)
		if err != nil {
			return err
		}

		customers = make([]domain.Customer, 0, len(rows))
		for _, r := range rows {
			customers = append(customers, r.toDomain())
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("customers.count", len(customers)))
	return customers, nil
}

// Save inserts when customer.ID is empty and updates otherwise. An update
// that matches no row of the tenant is reported as not found.
func (s *CustomerStore) Save(ctx context.Context, customer *domain.Customer) (*domain.Customer, error) {
	ctx, span := tracer.Start(ctx, "Supabase.SaveCustomer")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", customer.TenantID),
		attribute.Bool("customer.new", customer.IsNew()),
	)

	var saved *domain.Customer
	err := s.client.execute(ctx, "supabase/customers", func() error {
		var (
			body []byte
			err  error
		)
		if customer.IsNew() {
			body, err = s.client.doRequest(ctx, http.MethodPost, s.table, writeRow(customer), "return=representation")
		} else {
			path := query(s.table, eq("id", customer.ID), eq("tenant_id", customer.TenantID))
			body, err = s.client.doRequest(ctx, http.MethodPatch, path, writeRow(customer), "return=representation")
		}
		if err != nil {
			return err
		}

		rows, err := decodeRows(body)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return resilience.Permanent(&domain.ErrNotFound{Resource: "customer", ID: customer.ID})
		}
		c := rows[0].toDomain()
		saved = &c
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.client.logger.Debug("supabase: customer saved",
		zap.String("customer_id", saved.ID),
		zap.String("tenant_id", saved.TenantID),
	)
	return saved, nil
}

// HardDelete removes the record permanently. A delete that matches no row of
// the tenant is reported as not found.
func (s *CustomerStore) HardDelete(ctx context.Context, id, tenantID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteCustomer")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("customer.id", id),
	)

	err := s.client.execute(ctx, "supabase/customers", func() error {
		path := query(s.table, eq("id", id), eq("tenant_id", tenantID))
		body, err := s.client.doRequest(ctx, http.MethodDelete, path, nil, "return=representation")
		if err != nil {
			return err
		}
		rows, err := decodeRows(body)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return resilience.Permanent(&domain.ErrNotFound{Resource: "customer", ID: id})
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func decodeRows(body []byte) ([]customerRow, error) {
	if len(body) == 0 {
		return nil, nil
	}
	var rows []customerRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, resilience.Permanent(fmt.Errorf("decode customers: %w", err))
	}
	return rows, nil
}
