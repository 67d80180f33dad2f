package config

import "sync/atomic"

// Store holds the active RiskConfig behind an atomic pointer. Hot-reload
// replaces the whole struct in one swap; readers always see a complete limit
// set, never a half-updated one.
type Store struct {
	current atomic.Pointer[RiskConfig]
}

// NewStore creates a store seeded with the given config.
func NewStore(cfg RiskConfig) *Store {
	s := &Store{}
	s.current.Store(&cfg)
	return s
}

// Current returns the active risk configuration.
func (s *Store) Current() RiskConfig {
	return *s.current.Load()
}

// Swap replaces the active risk configuration wholesale.
func (s *Store) Swap(cfg RiskConfig) {
	s.current.Store(&cfg)
}
