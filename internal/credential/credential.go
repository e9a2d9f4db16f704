// Package credential holds per-pipeline upstream access tokens in memory.
// Tokens are never persisted; a restart requires them to be supplied again.
package credential

import "sync"

// Store is a concurrency-safe map of pipeline ID to access token.
type Store struct {
	mu     sync.RWMutex
	tokens map[int64]string
}

// NewStore creates an empty credential store.
func NewStore() *Store {
	return &Store{tokens: make(map[int64]string)}
}

// Get returns the token for a pipeline. ok is false when none is set.
func (s *Store) Get(pipelineID int64) (token string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok = s.tokens[pipelineID]
	return token, ok
}

// Set stores a token. An empty token clears the entry.
func (s *Store) Set(pipelineID int64, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token == "" {
		delete(s.tokens, pipelineID)
		return
	}
	s.tokens[pipelineID] = token
}

// Clear removes a pipeline's token.
func (s *Store) Clear(pipelineID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, pipelineID)
}

// ClearAll drops every token.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.tokens)
}

// Len returns the number of stored tokens.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}
