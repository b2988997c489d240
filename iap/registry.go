package iap

import (
	"sync"

	"github.com/pkg/errors"
)

type Service string

const (
	Apple   Service = "apple"
	Google  Service = "google"
	Windows Service = "windows"
	Amazon  Service = "amazon"
)

func (s Service) String() string {
	return string(s)
}

// Registry maps a Service to the adapter that handles it, preserving the order
// in which adapters were registered.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Service]Adapter
	order    []Service
}

func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{
		adapters: make(map[Service]Adapter),
	}
	for _, a := range adapters {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(a Adapter) error {
	if a == nil {
		return errors.New("adapter is nil")
	}

	service := a.Service()
	if service == "" {
		return errors.New("adapter has no service identifier")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.adapters[service]; ok {
		return errors.Wrapf(ErrAlreadyRegistered, "service %s", service)
	}

	r.adapters[service] = a
	r.order = append(r.order, service)
	return nil
}

func (r *Registry) AdapterFor(service Service) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[service]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownService, "invalid service given: %q", service)
	}
	return a, nil
}

// Services returns the registered services in registration order.
func (r *Registry) Services() []Service {
	r.mu.RLock()
	defer r.mu.RUnlock()

	services := make([]Service, len(r.order))
	copy(services, r.order)
	return services
}

// Adapters returns the registered adapters in registration order.
func (r *Registry) Adapters() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapters := make([]Adapter, 0, len(r.order))
	for _, s := range r.order {
		adapters = append(adapters, r.adapters[s])
	}
	return adapters
}
