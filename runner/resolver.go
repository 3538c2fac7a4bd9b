package runner

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"sync"

	"github.com/ethereum-optimism/infra/op-unitrunner/registry"
	"github.com/ethereum-optimism/infra/op-unitrunner/types"
)

// InstanceResolver supplies instances of test classes. Returning a nil
// instance with a nil error defers to the next strategy, and finally to the
// class's own constructor.
type InstanceResolver interface {
	Resolve(ctx context.Context, class *registry.Class) (any, error)
}

// ResolverFunc adapts a function to an InstanceResolver.
type ResolverFunc func(ctx context.Context, class *registry.Class) (any, error)

func (f ResolverFunc) Resolve(ctx context.Context, class *registry.Class) (any, error) {
	return f(ctx, class)
}

// ResolverChain asks each resolver in order and returns the first instance
// supplied. An error stops the chain.
type ResolverChain []InstanceResolver

func (c ResolverChain) Resolve(ctx context.Context, class *registry.Class) (any, error) {
	for _, r := range c {
		if r == nil {
			continue
		}
		inst, err := r.Resolve(ctx, class)
		if err != nil {
			return nil, err
		}
		if inst != nil {
			return inst, nil
		}
	}
	return nil, nil
}

// ServiceResolver resolves instances from a set of provided services keyed
// by class name.
type ServiceResolver struct {
	mu       sync.RWMutex
	services map[string]service
}

type service struct {
	className string
	instance  any
}

// NewServiceResolver creates an empty ServiceResolver.
func NewServiceResolver() *ServiceResolver {
	return &ServiceResolver{services: make(map[string]service)}
}

// Provide registers the instance to use for the named class.
func (s *ServiceResolver) Provide(className string, instance any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[strings.ToLower(className)] = service{className: className, instance: instance}
}

// Services returns the sorted names of the classes that have a provided
// instance.
func (s *ServiceResolver) Services() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.services))
	for _, svc := range s.services {
		names = append(names, svc.className)
	}
	slices.Sort(names)
	return names
}

func (s *ServiceResolver) Resolve(_ context.Context, class *registry.Class) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.services[strings.ToLower(class.Name)].instance, nil
}

// instanceCache holds one instance per class for the current test set.
type instanceCache struct {
	mu        sync.Mutex
	resolver  InstanceResolver
	instances map[*registry.Class]any
}

func newInstanceCache(resolver InstanceResolver) *instanceCache {
	return &instanceCache{
		resolver:  resolver,
		instances: make(map[*registry.Class]any),
	}
}

func (c *instanceCache) setResolver(resolver InstanceResolver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolver = resolver
}

func (c *instanceCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instances = make(map[*registry.Class]any)
}

// get returns the cached instance of class, resolving it on first use.
// Failed resolutions are not cached.
func (c *instanceCache) get(ctx context.Context, class *registry.Class) (inst any, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if inst, ok := c.instances[class]; ok {
		return inst, nil
	}

	defer func() {
		if r := recover(); r != nil {
			inst, err = nil, types.NewPanicError(r, debug.Stack())
		}
	}()

	if c.resolver != nil {
		inst, err = c.resolver.Resolve(ctx, class)
		if err != nil {
			return nil, fmt.Errorf("resolver failed for %s: %w", class.Name, err)
		}
	}
	if inst == nil && class.New != nil {
		inst = class.New()
	}
	c.instances[class] = inst
	return inst, nil
}
