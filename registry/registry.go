package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// Registry holds the registered test classes and the optional plan file
// used to select them.
type Registry struct {
	config  Config
	classes []*Class
	byName  map[string]*Class
	plans   *PlanFile
	mu      sync.RWMutex
}

// Config contains registry configuration
type Config struct {
	Log      log.Logger
	PlanFile string // optional; without it every registered class is selected
}

// NewRegistry creates a new registry instance
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}

	r := &Registry{
		config: cfg,
		byName: make(map[string]*Class),
	}

	if cfg.PlanFile != "" {
		if err := r.ReloadPlan(); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Register adds classes to the registry. Class names are unique,
// case-insensitively.
func (r *Registry) Register(classes ...*Class) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range classes {
		if c == nil {
			return errors.New("cannot register nil class")
		}
		if c.Name == "" {
			return errors.New("class name is required")
		}
		key := strings.ToLower(c.Name)
		if _, dup := r.byName[key]; dup {
			return fmt.Errorf("class %q already registered", c.Name)
		}
		r.byName[key] = c
		r.classes = append(r.classes, c)
	}
	r.config.Log.Debug("Registered classes", "count", len(classes), "total", len(r.classes))
	return nil
}

// Classes returns all registered classes in registration order.
func (r *Registry) Classes() []*Class {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Class, len(r.classes))
	copy(out, r.classes)
	return out
}

// Lookup returns the class registered under name, case-insensitively.
func (r *Registry) Lookup(name string) (*Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[strings.ToLower(name)]
	return c, ok
}

// ReloadPlan reads the configured plan file again.
func (r *Registry) ReloadPlan() error {
	pf, err := LoadPlanFile(r.config.PlanFile)
	if err != nil {
		return fmt.Errorf("failed to load plan file: %w", err)
	}

	r.mu.Lock()
	r.plans = pf
	r.mu.Unlock()

	r.config.Log.Debug("Plan file loaded", "path", r.config.PlanFile, "plans", len(pf.Plans))
	return nil
}

// DefaultTimeout returns the plan file's default timeout, or 0 when unset.
func (r *Registry) DefaultTimeout() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.plans == nil {
		return 0
	}
	return r.plans.DefaultTimeout
}

// GetConfig returns the registry configuration
func (r *Registry) GetConfig() Config {
	return r.config
}

// Select returns the candidate classes for a run. Without a plan file every
// registered class is returned. With one, planID names the plan to use and
// the plan's timeout overrides are applied to the returned classes.
func (r *Registry) Select(planID string) ([]*Class, error) {
	r.mu.RLock()
	plans := r.plans
	r.mu.RUnlock()

	if plans == nil {
		if planID != "" {
			return nil, fmt.Errorf("plan %q requested but no plan file is loaded", planID)
		}
		return r.Classes(), nil
	}
	if planID == "" {
		return nil, errors.New("a plan id is required when a plan file is loaded")
	}

	names, timeouts, err := plans.Resolve(planID)
	if err != nil {
		return nil, err
	}

	overrides := make(map[*Class]map[string]time.Duration)
	for key, d := range timeouts {
		className, method, _ := splitMethodKey(key)
		c, ok := r.Lookup(className)
		if !ok {
			return nil, fmt.Errorf("timeout override %q: class not registered", key)
		}
		if overrides[c] == nil {
			overrides[c] = make(map[string]time.Duration)
		}
		overrides[c][method] = d
	}

	classes := make([]*Class, 0, len(names))
	for _, name := range names {
		c, ok := r.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("plan %q: class %q not registered", planID, name)
		}
		if o, ok := overrides[c]; ok {
			c, err = withTimeouts(c, o)
			if err != nil {
				return nil, fmt.Errorf("plan %q: %w", planID, err)
			}
		}
		classes = append(classes, c)
	}
	return classes, nil
}

// withTimeouts derives a class from c that redeclares every method visible
// on c, in discovery order, with the given per-method timeouts applied.
func withTimeouts(c *Class, timeouts map[string]time.Duration) (*Class, error) {
	for name := range timeouts {
		if _, _, ok := c.Lookup(name); !ok {
			return nil, fmt.Errorf("timeout override: %s has no method %q", c.Name, name)
		}
	}

	derived := &Class{Name: c.Name, Base: c, New: c.New}
	seen := make(map[string]bool)
	for _, cls := range c.chain() {
		for _, m := range cls.methods {
			if seen[m.Name] {
				continue
			}
			seen[m.Name] = true
			if d, ok := timeouts[m.Name]; ok {
				m.Timeout = d
			}
			derived.methods = append(derived.methods, m)
		}
	}
	return derived, nil
}
