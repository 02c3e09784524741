package model

import "sync"

// Registry resolves capability profiles to concrete models. Patterns never
// name vendor models; they request a Profile and the registry decides.
type Registry struct {
	mu       sync.RWMutex
	profiles map[Profile]Model
	fallback Model
}

// NewRegistry creates a registry with a fallback model used for any profile
// without an explicit binding.
func NewRegistry(fallback Model) *Registry {
	return &Registry{
		profiles: make(map[Profile]Model),
		fallback: fallback,
	}
}

// Register binds a profile to a model.
func (r *Registry) Register(profile Profile, m Model) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.profiles[profile] = m

	return r
}

// Resolve returns the model bound to the profile, or the fallback.
func (r *Registry) Resolve(profile Profile) Model {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if m, ok := r.profiles[profile]; ok {
		return m
	}

	return r.fallback
}

// Default returns the fallback model.
func (r *Registry) Default() Model {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.fallback
}
