package provider

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownProvider indicates a provider name that is not registered.
// It is a validation failure, not an internal error.
var ErrUnknownProvider = errors.New("unknown provider")

var (
	providers       = make(map[string]Provider)
	defaultProvider Provider
	mu              sync.RWMutex
)

// Register registers a provider.
// The first registered provider becomes the default.
func Register(p Provider) {
	mu.Lock()
	defer mu.Unlock()

	providers[p.Name()] = p

	if defaultProvider == nil {
		defaultProvider = p
	}
}

// Get returns a provider by name.
func Get(name string) (Provider, bool) {
	mu.RLock()
	defer mu.RUnlock()

	p, ok := providers[name]
	return p, ok
}

// Resolve returns the provider for name, falling back to the default when
// name is empty. An unknown name is an error listing the registered
// providers.
func Resolve(name string) (Provider, error) {
	mu.RLock()
	defer mu.RUnlock()

	if name == "" {
		if defaultProvider == nil {
			return nil, fmt.Errorf("no providers registered")
		}
		return defaultProvider, nil
	}

	p, ok := providers[name]
	if !ok {
		names := make([]string, 0, len(providers))
		for n := range providers {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownProvider, name, strings.Join(names, ", "))
	}
	return p, nil
}

// Default returns the default provider.
func Default() Provider {
	mu.RLock()
	defer mu.RUnlock()

	return defaultProvider
}

// SetDefault sets the default provider by name.
func SetDefault(name string) bool {
	mu.Lock()
	defer mu.Unlock()

	if p, ok := providers[name]; ok {
		defaultProvider = p
		return true
	}
	return false
}

// List returns the names of all registered providers.
func List() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset clears all registered providers (for testing).
func Reset() {
	mu.Lock()
	defer mu.Unlock()

	providers = make(map[string]Provider)
	defaultProvider = nil
}
