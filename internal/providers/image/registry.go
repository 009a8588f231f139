package image

import (
	"fmt"
	"strings"
)

const defaultProvider = "synthetic"

// Registry maps provider names to generators with a default fallback.
type Registry struct {
	providers map[string]Generator
}

// NewRegistry returns a registry that always knows the synthetic provider.
func NewRegistry() *Registry {
	return &Registry{providers: map[string]Generator{defaultProvider: NewSyntheticGenerator()}}
}

// Register adds or replaces a provider under one or more names.
func (r *Registry) Register(gen Generator, names ...string) {
	for _, name := range names {
		r.providers[strings.ToLower(strings.TrimSpace(name))] = gen
	}
}

// Select returns the generator registered under requested, or the default
// provider together with its name when requested is unknown.
func (r *Registry) Select(requested string) (Generator, string, error) {
	name := strings.ToLower(strings.TrimSpace(requested))
	if gen, ok := r.providers[name]; ok {
		return gen, name, nil
	}
	if gen, ok := r.providers[defaultProvider]; ok {
		return gen, defaultProvider, nil
	}
	return nil, name, fmt.Errorf("image provider %q not configured", requested)
}
