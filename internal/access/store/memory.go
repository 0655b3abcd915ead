package store

import (
	"context"
	"sort"
	"sync"

	"receiv3/internal/access"
	"receiv3/pkg/domain"
)

type key struct {
	component access.Component
	role      access.Role
}

// InMemory keeps role sets per component and role.
type InMemory struct {
	mu      sync.RWMutex
	members map[key]map[domain.Address]struct{}
}

func NewInMemory() *InMemory {
	return &InMemory{members: make(map[key]map[domain.Address]struct{})}
}

func (s *InMemory) Add(_ context.Context, component access.Component, role access.Role, account, _ domain.Address) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{component, role}
	set, ok := s.members[k]
	if !ok {
		set = make(map[domain.Address]struct{})
		s.members[k] = set
	}
	if _, exists := set[account]; exists {
		return false, nil
	}
	set[account] = struct{}{}
	return true, nil
}

func (s *InMemory) Remove(_ context.Context, component access.Component, role access.Role, account domain.Address) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.members[key{component, role}]
	if _, exists := set[account]; !exists {
		return false, nil
	}
	delete(set, account)
	return true, nil
}

func (s *InMemory) Has(_ context.Context, component access.Component, role access.Role, account domain.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[key{component, role}][account]
	return ok, nil
}

// Members returns accounts sorted by address.
func (s *InMemory) Members(_ context.Context, component access.Component, role access.Role) ([]domain.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.members[key{component, role}]
	out := make([]domain.Address, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
