package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/Lumerin-protocol/contract-settlement/internal/contract"
	"github.com/Lumerin-protocol/contract-settlement/internal/lib"
	"github.com/Lumerin-protocol/contract-settlement/internal/service"
	"golang.org/x/exp/slices"
)

// ContractStore keeps contracts in process memory. Contracts are copied on the way
// in and on the way out, callers never share memory with the store
type ContractStore struct {
	mu        sync.RWMutex
	contracts map[string]contract.Contract
	order     []string
}

func NewContractStore() *ContractStore {
	return &ContractStore{
		contracts: make(map[string]contract.Contract),
	}
}

func (s *ContractStore) SaveContract(ctx context.Context, c contract.Contract) (*contract.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contracts[c.ID]; !ok {
		s.order = append(s.order, c.ID)
	}
	s.contracts[c.ID] = c.Clone()

	saved := c.Clone()
	return &saved, nil
}

func (s *ContractStore) FindContract(ctx context.Context, contractID string) (*contract.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contracts[contractID]
	if !ok {
		return nil, lib.WrapError(contract.ErrNotFound, fmt.Errorf("contract %s", contractID))
	}
	found := c.Clone()
	return &found, nil
}

func (s *ContractStore) FindContractsByParty(ctx context.Context, publicKey string) ([]contract.Contract, error) {
	return s.filter(func(c *contract.Contract) bool {
		return c.IsParty(publicKey)
	}), nil
}

func (s *ContractStore) FindContractsByStatus(ctx context.Context, status contract.Status) ([]contract.Contract, error) {
	return s.filter(func(c *contract.Contract) bool {
		return c.Status == status
	}), nil
}

func (s *ContractStore) UpdateContract(ctx context.Context, contractID string, update service.ContractUpdate) (*contract.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contracts[contractID]
	if !ok {
		return nil, lib.WrapError(contract.ErrNotFound, fmt.Errorf("contract %s", contractID))
	}
	if update.Parties != nil {
		update.Parties = slices.Clone(update.Parties)
	}
	service.ApplyUpdate(&c, update)
	c = c.Clone()
	s.contracts[contractID] = c

	updated := c.Clone()
	return &updated, nil
}

func (s *ContractStore) filter(keep func(c *contract.Contract) bool) []contract.Contract {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []contract.Contract
	for _, id := range s.order {
		c := s.contracts[id]
		if keep(&c) {
			result = append(result, c.Clone())
		}
	}
	return result
}
