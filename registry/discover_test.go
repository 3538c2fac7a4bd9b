package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(ctx context.Context, instance any) (any, error) {
	return nil, nil
}

func names(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Class.Name+"."+e.Method.Name)
	}
	return out
}

func TestDiscover(t *testing.T) {
	t.Run("keeps declaration order and drops non-tests", func(t *testing.T) {
		c := NewClass("Math", nil).
			Test("Add", noop).
			Func("Helper", noop).
			Test("Sub", noop)

		entries := Discover([]*Class{c})
		assert.Equal(t, []string{"Math.Add", "Math.Sub"}, names(entries))
	})

	t.Run("deduplicates classes by identity", func(t *testing.T) {
		a := NewClass("A", nil).Test("One", noop)
		b := NewClass("B", nil).Test("One", noop)
		entries := Discover([]*Class{a, b, a, nil})
		assert.Equal(t, []string{"A.One", "B.One"}, names(entries))
	})

	t.Run("class without tests contributes nothing", func(t *testing.T) {
		c := NewClass("Empty", nil).Func("Helper", noop)
		assert.Empty(t, Discover([]*Class{c}))
	})

	t.Run("unexported names are skipped", func(t *testing.T) {
		c := NewClass("Private", nil).Test("hidden", noop).Test("Visible", noop)
		assert.Equal(t, []string{"Private.Visible"}, names(Discover([]*Class{c})))
	})
}

func TestDiscoverOverrides(t *testing.T) {
	baseErr := errors.New("base")
	base := NewClass("Base", nil).
		Test("Shared", func(ctx context.Context, instance any) (any, error) {
			return nil, baseErr
		}).
		Test("BaseOnly", noop)

	derived := NewClass("Derived", nil).
		Extends(base).
		Test("Shared", func(ctx context.Context, instance any) (any, error) {
			return "derived", nil
		}).
		Test("DerivedOnly", noop)

	t.Run("most derived declaration wins", func(t *testing.T) {
		entries := Discover([]*Class{derived})
		require.Equal(t, []string{"Derived.Shared", "Derived.DerivedOnly", "Derived.BaseOnly"}, names(entries))

		shared := entries[0]
		assert.Same(t, derived, shared.Declarer)
		v, err := shared.Method.Fn(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, "derived", v)

		assert.Same(t, base, entries[2].Declarer)
	})

	t.Run("base and derived both listed", func(t *testing.T) {
		entries := Discover([]*Class{base, derived})
		assert.Len(t, entries, 5)
		assert.Equal(t, "Base.Shared", names(entries)[0])
	})

	t.Run("non-test override hides inherited test", func(t *testing.T) {
		hider := NewClass("Hider", nil).Extends(base).Func("Shared", noop)
		assert.Equal(t, []string{"Hider.BaseOnly"}, names(Discover([]*Class{hider})))
	})

	t.Run("grandchild resolves closest ancestor", func(t *testing.T) {
		grandchild := NewClass("Grandchild", nil).Extends(derived)
		entries := Discover([]*Class{grandchild})
		require.Len(t, entries, 3)
		assert.Same(t, derived, entries[0].Declarer)
	})

	t.Run("cyclic base chain terminates", func(t *testing.T) {
		a := NewClass("A", nil).Test("One", noop)
		b := NewClass("B", nil).Extends(a).Test("Two", noop)
		a.Extends(b)
		assert.Equal(t, []string{"B.Two", "B.One"}, names(Discover([]*Class{b})))
	})
}

func TestClass(t *testing.T) {
	type counter struct{ n int }

	c := NewClass("Counter", func() any { return &counter{} }).
		Test("Inc", Bind(func(ctx context.Context, c *counter) (any, error) {
			c.n++
			return c.n, nil
		}), WithTimeout(5))

	m, declarer, ok := c.Lookup("Inc")
	require.True(t, ok)
	assert.Same(t, c, declarer)
	assert.EqualValues(t, 5, m.Timeout)

	inst := c.New()
	v, err := m.Fn(context.Background(), inst)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = m.Fn(context.Background(), "wrong type")
	assert.ErrorContains(t, err, "does not satisfy")

	_, _, ok = c.Lookup("Missing")
	assert.False(t, ok)

	reqErr := errors.New("no network")
	parent := NewClass("Parent", nil).Require(func(ctx context.Context) error { return reqErr })
	child := NewClass("Child", nil).Extends(parent).Require(func(ctx context.Context) error { return nil })
	assert.Len(t, child.Requirements(), 2)
	assert.Len(t, parent.Requirements(), 1)
}
