// Package functions holds the built-in worker functions the CLI can
// register with a worker.
package functions

import (
	"fmt"
	"slices"
	"sync"
)

// Func turns a job workload into its result.
type Func func(workload []byte) ([]byte, error)

var (
	mu       sync.RWMutex
	registry = make(map[string]Func)
)

func Register(name string, fn Func) error {
	mu.Lock()
	defer mu.Unlock()
	if fn == nil {
		return fmt.Errorf("function is nil: %s", name)
	}
	if _, exists := registry[name]; exists {
		return fmt.Errorf("function already registered: %s", name)
	}
	registry[name] = fn
	return nil
}

func Get(name string) (Func, error) {
	mu.RLock()
	defer mu.RUnlock()
	fn, exists := registry[name]
	if !exists {
		return nil, fmt.Errorf("function not found: %s", name)
	}
	return fn, nil
}

// List returns the registered names in sorted order.
func List() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func mustRegister(name string, fn Func) {
	if err := Register(name, fn); err != nil {
		panic(err)
	}
}
