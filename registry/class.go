package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum-optimism/infra/op-unitrunner/types"
)

// Requirement is a precondition checked before a test body runs. A failing
// requirement marks the test Unsupported with the returned message.
type Requirement func(ctx context.Context) error

// Method is a named method registered on a class.
type Method struct {
	Name     string
	Test     bool          // marked as a test
	Timeout  time.Duration // 0 uses the runner default
	Requires []Requirement
	Fn       types.TestFunc
}

// MethodOption configures a registered method.
type MethodOption func(*Method)

// WithTimeout sets the per-test timeout.
func WithTimeout(d time.Duration) MethodOption {
	return func(m *Method) {
		m.Timeout = d
	}
}

// WithRequirement adds a precondition to the method.
func WithRequirement(req Requirement) MethodOption {
	return func(m *Method) {
		m.Requires = append(m.Requires, req)
	}
}

// Class is a registered test class: a display name, a constructor and an
// ordered set of methods. Base links the class to its parent so methods
// declared on the parent are inherited and may be overridden.
type Class struct {
	Name     string
	Base     *Class
	New      func() any
	Requires []Requirement

	methods []Method
}

// NewClass creates a class. newFn may be nil for classes without state.
func NewClass(name string, newFn func() any) *Class {
	return &Class{Name: name, New: newFn}
}

// Extends sets the parent class.
func (c *Class) Extends(base *Class) *Class {
	c.Base = base
	return c
}

// Require adds a precondition shared by every test of the class.
func (c *Class) Require(req Requirement) *Class {
	c.Requires = append(c.Requires, req)
	return c
}

// Test declares a test method.
func (c *Class) Test(name string, fn types.TestFunc, opts ...MethodOption) *Class {
	return c.declare(name, true, fn, opts)
}

// Func declares a method that is not a test. It still takes part in
// override resolution, so it hides a same-named test on a parent class.
func (c *Class) Func(name string, fn types.TestFunc, opts ...MethodOption) *Class {
	return c.declare(name, false, fn, opts)
}

func (c *Class) declare(name string, test bool, fn types.TestFunc, opts []MethodOption) *Class {
	m := Method{Name: name, Test: test, Fn: fn}
	for _, opt := range opts {
		opt(&m)
	}
	c.methods = append(c.methods, m)
	return c
}

// Requirements returns the class-level preconditions of c and its ancestors.
func (c *Class) Requirements() []Requirement {
	var reqs []Requirement
	for _, cls := range c.chain() {
		reqs = append(reqs, cls.Requires...)
	}
	return reqs
}

// Methods returns the methods declared directly on the class.
func (c *Class) Methods() []Method {
	out := make([]Method, len(c.methods))
	copy(out, c.methods)
	return out
}

// Lookup finds the method named name that an instance of c would use,
// walking up the Base chain.
func (c *Class) Lookup(name string) (Method, *Class, bool) {
	for _, cls := range c.chain() {
		for _, m := range cls.methods {
			if m.Name == name {
				return m, cls, true
			}
		}
	}
	return Method{}, nil, false
}

// chain returns c followed by its ancestors. A cycle in the Base links ends
// the chain at the first repeated class.
func (c *Class) chain() []*Class {
	var out []*Class
	seen := make(map[*Class]struct{})
	for cls := c; cls != nil; cls = cls.Base {
		if _, ok := seen[cls]; ok {
			break
		}
		seen[cls] = struct{}{}
		out = append(out, cls)
	}
	return out
}

func (c *Class) String() string {
	return c.Name
}

// Bind adapts a function over a concrete instance type into a TestFunc.
// I is usually a pointer to the class's struct, or an interface satisfied by
// the instances of every class that inherits the method.
func Bind[I any](fn func(ctx context.Context, inst I) (any, error)) types.TestFunc {
	return func(ctx context.Context, instance any) (any, error) {
		inst, ok := instance.(I)
		if !ok {
			var want I
			return nil, fmt.Errorf("instance of type %T does not satisfy %T", instance, &want)
		}
		return fn(ctx, inst)
	}
}
