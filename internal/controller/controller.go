// Package controller turns user intents into session and customer operations
// and renders the resulting state. One busy flag serializes every
// backend-bound submission.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/boddenberg/pj-clientes-go/internal/domain"
	"github.com/boddenberg/pj-clientes-go/internal/export"
	"github.com/boddenberg/pj-clientes-go/internal/infra/observability"
	"github.com/boddenberg/pj-clientes-go/internal/view"

	"go.uber.org/zap"
)

// User-facing messages.
const (
	msgLoginOK        = "Login realizado com sucesso!"
	msgSignUpOK       = "Cadastro realizado! Verifique seu e-mail para confirmar a conta."
	msgLogoutOK       = "Você saiu da sua conta."
	msgInvalidLogin   = "E-mail ou senha inválidos."
	msgEmailTaken     = "Este e-mail já está cadastrado."
	msgNetwork        = "Falha de comunicação. Tente novamente."
	msgLogoutFailed   = "Erro ao sair. Tente novamente."
	msgNothingToShare = "Não há clientes para exportar."
	msgExportFailed   = "Erro ao gerar arquivo de exportação."
	msgUnexpected     = "Erro inesperado. Tente novamente."
)

// Mode is the auth form currently shown while logged out.
type Mode string

const (
	ModeLogin  Mode = "login"
	ModeSignUp Mode = "signup"
)

// SessionStore is the subset of the session store the controller drives.
type SessionStore interface {
	Snapshot() domain.Session
	SignIn(ctx context.Context, email, password string) error
	SignUp(ctx context.Context, req *domain.SignUpRequest) error
	SignOut(ctx context.Context) error
}

// CustomerList is the subset of the customer synchronizer the controller drives.
type CustomerList interface {
	Customers() ([]domain.Customer, uint64)
	Save(ctx context.Context, c domain.Customer) (*domain.Customer, error)
	HardDelete(ctx context.Context, id string) error
}

// Notifications publishes and exposes the visible notification.
type Notifications interface {
	Notify(message string, kind domain.NotificationKind)
	Current() (domain.Notification, bool)
}

// State is one rendering of the client.
type State struct {
	Session      domain.Session       `json:"session"`
	Mode         Mode                 `json:"mode"`
	Busy         bool                 `json:"busy"`
	Query        string               `json:"query"`
	Customers    []domain.Customer    `json:"customers"`
	Stats        domain.AppStats      `json:"stats"`
	Notification *domain.Notification `json:"notification,omitempty"`
}

// Controller wires user intents to the session store and the customer list.
type Controller struct {
	session   SessionStore
	customers CustomerList
	notifier  Notifications
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time

	busy atomic.Bool
	memo view.Memo

	mu    sync.Mutex
	mode  Mode
	query string
}

// New creates a controller showing the login form.
func New(session SessionStore, customers CustomerList, notifier Notifications, metrics *observability.Metrics, logger *zap.Logger) *Controller {
	return &Controller{
		session:   session,
		customers: customers,
		notifier:  notifier,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
		mode:      ModeLogin,
	}
}

// SetClock overrides the clock used for export filenames.
func (c *Controller) SetClock(now func() time.Time) {
	c.now = now
}

// Busy reports whether a submission is in flight.
func (c *Controller) Busy() bool {
	return c.busy.Load()
}

// Session returns the current session snapshot.
func (c *Controller) Session() domain.Session {
	return c.session.Snapshot()
}

// SetMode switches between the login and sign-up forms.
func (c *Controller) SetMode(m Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = m
}

// SetQuery updates the search box.
func (c *Controller) SetQuery(q string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.query = q
}

// run holds the busy flag for the duration of fn. A concurrent call is
// rejected with ErrBusy without side effects. The flag is released on every
// path, panics included.
func (c *Controller) run(ctx context.Context, op string, fn func(context.Context) error) (err error) {
	if !c.busy.CompareAndSwap(false, true) {
		if c.metrics != nil {
			c.metrics.IncrBusyRejection()
		}
		c.logger.Debug("controller: submission rejected while busy", zap.String("operation", op))
		return &domain.ErrBusy{Operation: op}
	}
	defer c.busy.Store(false)

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("controller: operation panicked",
				zap.String("operation", op),
				zap.Any("panic", r),
			)
			c.notifier.Notify(msgUnexpected, domain.NotifyError)
			err = fmt.Errorf("%s: panic: %v", op, r)
		}
	}()

	start := time.Now()
	err = fn(ctx)
	if c.metrics != nil {
		c.metrics.RecordDuration("controller."+op, time.Since(start))
	}
	return err
}

// SubmitLogin signs in. The session becomes logged in through the auth
// event that follows, not here.
func (c *Controller) SubmitLogin(ctx context.Context, email, password string) error {
	return c.run(ctx, "login", func(ctx context.Context) error {
		if err := c.session.SignIn(ctx, email, password); err != nil {
			c.notifier.Notify(authFailureMessage(err), domain.NotifyError)
			return err
		}
		c.notifier.Notify(msgLoginOK, domain.NotifySuccess)
		return nil
	})
}

// SubmitSignUp registers a tenant and returns the form to login mode.
func (c *Controller) SubmitSignUp(ctx context.Context, req *domain.SignUpRequest) error {
	return c.run(ctx, "signup", func(ctx context.Context) error {
		if err := c.session.SignUp(ctx, req); err != nil {
			c.notifier.Notify(authFailureMessage(err), domain.NotifyError)
			return err
		}
		c.SetMode(ModeLogin)
		c.notifier.Notify(msgSignUpOK, domain.NotifySuccess)
		return nil
	})
}

// Logout signs out. The list is emptied by the SignedOut event.
func (c *Controller) Logout(ctx context.Context) error {
	return c.run(ctx, "logout", func(ctx context.Context) error {
		if err := c.session.SignOut(ctx); err != nil {
			c.notifier.Notify(msgLogoutFailed, domain.NotifyError)
			return err
		}
		c.notifier.Notify(msgLogoutOK, domain.NotifySuccess)
		return nil
	})
}

// SubmitCustomer creates or updates a customer from the edit form. The
// customer list reports the outcome itself.
func (c *Controller) SubmitCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	var saved *domain.Customer
	err := c.run(ctx, "save", func(ctx context.Context) error {
		var err error
		saved, err = c.customers.Save(ctx, customer)
		return err
	})
	return saved, err
}

// DeleteCustomer permanently removes a customer.
func (c *Controller) DeleteCustomer(ctx context.Context, id string) error {
	return c.run(ctx, "delete", func(ctx context.Context) error {
		return c.customers.HardDelete(ctx, id)
	})
}

// ExportCSV projects the displayed list into a CSV file. It does not touch
// the busy flag and refuses when there is nothing to export.
func (c *Controller) ExportCSV() ([]byte, string, error) {
	rows, err := c.exportRows()
	if err != nil {
		return nil, "", err
	}
	return export.CSV(rows), export.CSVFilename(c.now()), nil
}

// ExportXLSX is ExportCSV rendered as a spreadsheet.
func (c *Controller) ExportXLSX() ([]byte, string, error) {
	rows, err := c.exportRows()
	if err != nil {
		return nil, "", err
	}
	data, err := export.XLSX(rows)
	if err != nil {
		c.logger.Error("controller: xlsx export failed", zap.Error(err))
		c.notifier.Notify(msgExportFailed, domain.NotifyError)
		return nil, "", err
	}
	return data, export.XLSXFilename(c.now()), nil
}

func (c *Controller) exportRows() ([]domain.Customer, error) {
	rows := c.State().Customers
	if len(rows) == 0 {
		c.notifier.Notify(msgNothingToShare, domain.NotifyError)
		return nil, &domain.ErrValidation{Field: "customers", Message: msgNothingToShare}
	}
	return rows, nil
}

// State renders the current view. Projections are recomputed only when the
// list revision or the query changed.
func (c *Controller) State() State {
	c.mu.Lock()
	mode, query := c.mode, c.query
	c.mu.Unlock()

	list, rev := c.customers.Customers()
	st := State{
		Session:   c.session.Snapshot(),
		Mode:      mode,
		Busy:      c.Busy(),
		Query:     query,
		Customers: c.memo.Filtered(rev, list, query),
		Stats:     c.memo.Stats(rev, list),
	}
	if n, ok := c.notifier.Current(); ok {
		st.Notification = &n
	}
	return st
}

func authFailureMessage(err error) string {
	var (
		validation   *domain.ErrValidation
		unauthorized *domain.ErrUnauthorized
		conflict     *domain.ErrConflict
	)
	switch {
	case errors.As(err, &validation):
		return validation.Message
	case errors.As(err, &unauthorized):
		return msgInvalidLogin
	case errors.As(err, &conflict):
		return msgEmailTaken
	default:
		return msgNetwork
	}
}
