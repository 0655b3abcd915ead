package store

import (
	"context"
	"fmt"
	"sync"

	"receiv3/internal/pool/models"
	"receiv3/pkg/domain"
	"receiv3/pkg/platform/sentinel"
)

// InMemoryPoolStore keeps pools, their investment logs, repayments and the
// engine settings in process.
type InMemoryPoolStore struct {
	mu          sync.RWMutex
	seq         uint64
	pools       map[domain.PoolID]*models.Pool
	investments map[domain.PoolID][]models.Investment
	byInvestor  map[domain.Address][]domain.PoolID
	repayments  map[domain.PoolID]*models.Repayment
	settings    *models.Settings
}

func NewInMemory() *InMemoryPoolStore {
	return &InMemoryPoolStore{
		pools:       make(map[domain.PoolID]*models.Pool),
		investments: make(map[domain.PoolID][]models.Investment),
		byInvestor:  make(map[domain.Address][]domain.PoolID),
		repayments:  make(map[domain.PoolID]*models.Repayment),
	}
}

func (s *InMemoryPoolStore) Create(_ context.Context, p *models.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pools[p.ID]; exists {
		return fmt.Errorf("pool %s: %w", p.ID, sentinel.ErrConflict)
	}
	s.pools[p.ID] = p.Clone()
	return nil
}

func (s *InMemoryPoolStore) FindByID(_ context.Context, id domain.PoolID) (*models.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pools[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return p.Clone(), nil
}

// Update writes p if p.Version matches the stored pool, then bumps it.
func (s *InMemoryPoolStore) Update(_ context.Context, p *models.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(p)
}

// put is the compare-and-set every pool write goes through. Callers hold mu.
func (s *InMemoryPoolStore) put(p *models.Pool) error {
	current, ok := s.pools[p.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != p.Version {
		return fmt.Errorf("pool %s at version %d, write based on %d: %w",
			p.ID, current.Version, p.Version, sentinel.ErrInvalidState)
	}
	p.Version++
	s.pools[p.ID] = p.Clone()
	return nil
}

// AppendInvestment stores the updated pool and appends inv to its log in one
// step. inv.Seq is assigned.
func (s *InMemoryPoolStore) AppendInvestment(_ context.Context, p *models.Pool, inv *models.Investment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.put(p); err != nil {
		return err
	}
	s.seq++
	inv.Seq = s.seq

	first := true
	for _, existing := range s.investments[p.ID] {
		if existing.Investor == inv.Investor {
			first = false
			break
		}
	}
	s.investments[p.ID] = append(s.investments[p.ID], *inv)
	if first {
		s.byInvestor[inv.Investor] = append(s.byInvestor[inv.Investor], p.ID)
	}
	return nil
}

func (s *InMemoryPoolStore) HasInvested(_ context.Context, id domain.PoolID, investor domain.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inv := range s.investments[id] {
		if inv.Investor == investor {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryPoolStore) ListInvestments(_ context.Context, id domain.PoolID) ([]models.Investment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.investments[id]
	out := make([]models.Investment, len(log))
	copy(out, log)
	return out, nil
}

// ListPoolsByInvestor returns each pool once, in order of first investment.
func (s *InMemoryPoolStore) ListPoolsByInvestor(_ context.Context, investor domain.Address) ([]domain.PoolID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byInvestor[investor]
	out := make([]domain.PoolID, len(ids))
	copy(out, ids)
	return out, nil
}

// SaveRepayment stores the closed pool together with its repayment record.
func (s *InMemoryPoolStore) SaveRepayment(_ context.Context, p *models.Pool, rep *models.Repayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.repayments[p.ID]; exists {
		return fmt.Errorf("repayment for pool %s: %w", p.ID, sentinel.ErrConflict)
	}
	if err := s.put(p); err != nil {
		return err
	}
	s.repayments[p.ID] = cloneRepayment(rep)
	return nil
}

// DeleteRepayment restores p and drops its repayment record.
func (s *InMemoryPoolStore) DeleteRepayment(_ context.Context, p *models.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.put(p); err != nil {
		return err
	}
	delete(s.repayments, p.ID)
	return nil
}

func (s *InMemoryPoolStore) FindRepayment(_ context.Context, id domain.PoolID) (*models.Repayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rep, ok := s.repayments[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneRepayment(rep), nil
}

func (s *InMemoryPoolStore) LoadSettings(_ context.Context) (*models.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.settings == nil {
		return nil, sentinel.ErrNotFound
	}
	c := *s.settings
	return &c, nil
}

func (s *InMemoryPoolStore) SaveSettings(_ context.Context, settings models.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = &settings
	return nil
}

func cloneRepayment(rep *models.Repayment) *models.Repayment {
	c := *rep
	c.Returns = append([]models.InvestorReturn(nil), rep.Returns...)
	return &c
}
