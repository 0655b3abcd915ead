package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"receiv3/internal/invoice/models"
	"receiv3/pkg/domain"
	"receiv3/pkg/platform/sentinel"
)

// InMemoryInvoiceStore keeps invoices with their number and exporter indices.
type InMemoryInvoiceStore struct {
	mu         sync.RWMutex
	lastID     domain.InvoiceID
	invoices   map[domain.InvoiceID]*models.Invoice
	byNumber   map[string]domain.InvoiceID
	byExporter map[domain.Address][]domain.InvoiceID
}

func NewInMemory() *InMemoryInvoiceStore {
	return &InMemoryInvoiceStore{
		invoices:   make(map[domain.InvoiceID]*models.Invoice),
		byNumber:   make(map[string]domain.InvoiceID),
		byExporter: make(map[domain.Address][]domain.InvoiceID),
	}
}

// Create assigns the next id to inv and indexes it. A live invoice with the
// same number yields sentinel.ErrConflict and leaves the counter untouched.
func (s *InMemoryInvoiceStore) Create(_ context.Context, inv *models.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byNumber[inv.Number]; taken {
		return fmt.Errorf("invoice number %q: %w", inv.Number, sentinel.ErrConflict)
	}
	s.lastID++
	inv.ID = s.lastID
	s.invoices[inv.ID] = inv.Clone()
	s.byNumber[inv.Number] = inv.ID
	s.byExporter[inv.Exporter] = append(s.byExporter[inv.Exporter], inv.ID)
	return nil
}

func (s *InMemoryInvoiceStore) FindByID(_ context.Context, id domain.InvoiceID) (*models.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return inv.Clone(), nil
}

func (s *InMemoryInvoiceStore) FindIDByNumber(_ context.Context, number string) (domain.InvoiceID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byNumber[number]
	if !ok {
		return 0, sentinel.ErrNotFound
	}
	return id, nil
}

func (s *InMemoryInvoiceStore) ListByExporter(_ context.Context, exporter domain.Address) ([]domain.InvoiceID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byExporter[exporter]
	out := make([]domain.InvoiceID, len(ids))
	copy(out, ids)
	return out, nil
}

// Update overwrites the mutable fields of a live invoice.
func (s *InMemoryInvoiceStore) Update(_ context.Context, inv *models.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.invoices[inv.ID]
	if !ok || cur.Burned() {
		return sentinel.ErrNotFound
	}
	s.invoices[inv.ID] = inv.Clone()
	return nil
}

// Burn marks the invoice burned and releases its number and exporter entries.
func (s *InMemoryInvoiceStore) Burn(_ context.Context, id domain.InvoiceID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok || inv.Burned() {
		return sentinel.ErrNotFound
	}
	burned := inv.Clone()
	burned.BurnedAt = &at
	burned.UpdatedAt = at
	s.invoices[id] = burned
	delete(s.byNumber, inv.Number)

	ids := s.byExporter[inv.Exporter]
	for i, v := range ids {
		if v == id {
			s.byExporter[inv.Exporter] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

// Count returns the number of ids ever assigned.
func (s *InMemoryInvoiceStore) Count(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(s.lastID), nil
}
