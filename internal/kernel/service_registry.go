package kernel

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"

	"otogi-invite/pkg/otogi"
)

// ServiceRegistry holds named service singletons shared by modules.
type ServiceRegistry struct {
	mu       sync.RWMutex
	services map[string]any
}

// NewServiceRegistry returns an empty registry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{services: map[string]any{}}
}

// Register binds service to name. Names are claimed once; nil services,
// including typed nil pointers, are rejected.
func (r *ServiceRegistry) Register(name string, service any) error {
	switch {
	case name == "":
		return fmt.Errorf("register service: empty name")
	case isNil(service):
		return fmt.Errorf("register service %s: nil service", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.services[name]; taken {
		return fmt.Errorf("register service %s: %w", name, otogi.ErrServiceAlreadyRegistered)
	}
	r.services[name] = service

	return nil
}

// Resolve returns the service registered under name.
func (r *ServiceRegistry) Resolve(name string) (any, error) {
	if name == "" {
		return nil, fmt.Errorf("resolve service: empty name")
	}

	r.mu.RLock()
	service, ok := r.services[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("resolve service %s: %w", name, otogi.ErrServiceNotFound)
	}

	return service, nil
}

// Names returns the registered names in lexical order.
func (r *ServiceRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.services))
}

func isNil(service any) bool {
	if service == nil {
		return true
	}

	value := reflect.ValueOf(service)
	switch value.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return value.IsNil()
	}

	return false
}
