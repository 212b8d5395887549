package storage

import (
	"context"
	"sync"

	"tokenscope/internal/model"
)

// MemoryTokenStore is an in-memory TokenStore for tests and storeless runs.
type MemoryTokenStore struct {
	mu        sync.Mutex
	tokens    map[string]model.Token
	blacklist []string
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]model.Token)}
}

var _ TokenStore = (*MemoryTokenStore)(nil)

func (s *MemoryTokenStore) UpsertTokens(_ context.Context, tokens []model.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, token := range tokens {
		s.tokens[model.NormalizeAddress(token.Address)] = token
	}
	return nil
}

func (s *MemoryTokenStore) LoadTokenAddresses(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addresses := make([]string, 0, len(s.tokens))
	for address := range s.tokens {
		addresses = append(addresses, address)
	}
	return addresses, nil
}

func (s *MemoryTokenStore) LoadBlacklist(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.blacklist...), nil
}

func (s *MemoryTokenStore) AddToBlacklist(_ context.Context, address, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blacklist = append(s.blacklist, model.NormalizeAddress(address))
	return nil
}

// Blacklist adds addresses to the in-memory blacklist.
func (s *MemoryTokenStore) Blacklist(addresses ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, address := range addresses {
		s.blacklist = append(s.blacklist, model.NormalizeAddress(address))
	}
}

// Token returns a stored token by address.
func (s *MemoryTokenStore) Token(address string) (model.Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[model.NormalizeAddress(address)]
	return token, ok
}

// Len returns the number of stored tokens.
func (s *MemoryTokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}
