// Package view holds pure projections of the customer list.
package view

import (
	"strings"
	"sync"

	"github.com/boddenberg/pj-clientes-go/internal/domain"
)

// FilterCustomers keeps customers whose name contains query (case-insensitive)
// or whose phone contains query verbatim. An empty query keeps everything.
// The input slice is never modified.
func FilterCustomers(list []domain.Customer, query string) []domain.Customer {
	if query == "" {
		return list
	}

	lowered := strings.ToLower(query)
	out := make([]domain.Customer, 0, len(list))
	for _, c := range list {
		if strings.Contains(strings.ToLower(c.Name), lowered) || strings.Contains(c.Phone, query) {
			out = append(out, c)
		}
	}
	return out
}

// ComputeStats counts active customers; everything else is inactive,
// including pending ones.
func ComputeStats(list []domain.Customer) domain.AppStats {
	active := 0
	for _, c := range list {
		if c.Status == domain.StatusActive {
			active++
		}
	}
	return domain.AppStats{
		Total:    len(list),
		Active:   active,
		Inactive: len(list) - active,
	}
}

// Memo caches the projections for the last (revision, query) pair. The
// revision identifies a list value: callers bump it whenever the list is
// replaced.
type Memo struct {
	mu sync.Mutex

	filteredValid bool
	filteredRev   uint64
	query         string
	filtered      []domain.Customer

	statsValid bool
	statsRev   uint64
	stats      domain.AppStats

	computations int
}

// Filtered returns FilterCustomers(list, query), recomputing only when the
// revision or the query changed since the last call.
func (m *Memo) Filtered(rev uint64, list []domain.Customer, query string) []domain.Customer {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.filteredValid && m.filteredRev == rev && m.query == query {
		return m.filtered
	}
	m.filtered = FilterCustomers(list, query)
	m.filteredRev = rev
	m.query = query
	m.filteredValid = true
	m.computations++
	return m.filtered
}

// Stats returns ComputeStats(list), recomputing only on a new revision.
func (m *Memo) Stats(rev uint64, list []domain.Customer) domain.AppStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.statsValid && m.statsRev == rev {
		return m.stats
	}
	m.stats = ComputeStats(list)
	m.statsRev = rev
	m.statsValid = true
	m.computations++
	return m.stats
}

// Computations reports how many projections were actually computed.
func (m *Memo) Computations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.computations
}
