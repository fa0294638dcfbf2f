package component

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds an optional component. Returning (nil, nil) means the
// component is disabled by configuration.
type Factory func(deps Dependencies) (Component, error)

var (
	registry = make(map[string]Factory)
	mu       sync.RWMutex
)

func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("component %s already registered", name))
	}

	registry[name] = factory
}

func List() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadAll instantiates every registered component in name order, skipping
// the disabled ones.
func LoadAll(deps Dependencies) ([]Component, error) {
	names := List()

	mu.RLock()
	defer mu.RUnlock()

	components := make([]Component, 0, len(names))
	for _, name := range names {
		comp, err := registry[name](deps)
		if err != nil {
			return nil, fmt.Errorf("failed to create component %s: %w", name, err)
		}
		if comp == nil {
			continue
		}
		components = append(components, comp)
	}

	return components, nil
}
