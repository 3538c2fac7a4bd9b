package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validPlan = `
default_timeout: 45s
plans:
  - id: base
    description: "Core checks"
    classes: [Alpha]
    timeouts:
      Alpha.Slow: 2s
  - id: full
    inherits: [base]
    classes: [Beta, alpha]
    timeouts:
      Alpha.Slow: 3s
`

func writePlan(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func testClasses() (*Class, *Class) {
	alpha := NewClass("Alpha", nil).Test("Fast", noop).Test("Slow", noop).Func("Helper", noop)
	beta := NewClass("Beta", nil).Test("Only", noop)
	return alpha, beta
}

func TestRegistryRegister(t *testing.T) {
	r, err := NewRegistry(Config{Log: log.New()})
	require.NoError(t, err)

	alpha, beta := testClasses()
	require.NoError(t, r.Register(alpha, beta))

	assert.Equal(t, []*Class{alpha, beta}, r.Classes())

	c, ok := r.Lookup("ALPHA")
	require.True(t, ok)
	assert.Same(t, alpha, c)

	assert.ErrorContains(t, r.Register(NewClass("alpha", nil)), "already registered")
	assert.Error(t, r.Register(nil))
	assert.Error(t, r.Register(NewClass("", nil)))

	t.Run("select without plan returns all classes", func(t *testing.T) {
		classes, err := r.Select("")
		require.NoError(t, err)
		assert.Equal(t, []*Class{alpha, beta}, classes)

		_, err = r.Select("full")
		assert.Error(t, err)
	})
}

func TestRegistryPlans(t *testing.T) {
	r, err := NewRegistry(Config{Log: log.New(), PlanFile: writePlan(t, validPlan)})
	require.NoError(t, err)
	alpha, beta := testClasses()
	require.NoError(t, r.Register(alpha, beta))

	assert.Equal(t, 45*time.Second, r.DefaultTimeout())

	t.Run("plan id required", func(t *testing.T) {
		_, err := r.Select("")
		assert.Error(t, err)
	})

	t.Run("unknown plan", func(t *testing.T) {
		_, err := r.Select("missing")
		assert.ErrorContains(t, err, "not found")
	})

	t.Run("inherited classes first and deduplicated", func(t *testing.T) {
		classes, err := r.Select("full")
		require.NoError(t, err)
		require.Len(t, classes, 2)
		assert.Equal(t, "Alpha", classes[0].Name)
		assert.Same(t, beta, classes[1])
	})

	t.Run("timeout overrides keep discovery order", func(t *testing.T) {
		classes, err := r.Select("full")
		require.NoError(t, err)

		derived := classes[0]
		assert.NotSame(t, alpha, derived)
		assert.Same(t, alpha, derived.Base)

		entries := Discover([]*Class{derived})
		require.Equal(t, []string{"Alpha.Fast", "Alpha.Slow"}, names(entries))
		assert.Equal(t, time.Duration(0), entries[0].Method.Timeout)
		assert.Equal(t, 3*time.Second, entries[1].Method.Timeout)

		classes, err = r.Select("base")
		require.NoError(t, err)
		slow, _, ok := classes[0].Lookup("Slow")
		require.True(t, ok)
		assert.Equal(t, 2*time.Second, slow.Timeout)
	})

	t.Run("unregistered class in plan", func(t *testing.T) {
		r2, err := NewRegistry(Config{Log: log.New(), PlanFile: writePlan(t, validPlan)})
		require.NoError(t, err)
		require.NoError(t, r2.Register(NewClass("Beta", nil)))
		_, err = r2.Select("full")
		assert.Error(t, err)
	})
}

func TestLoadPlanFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "valid",
			content: validPlan,
		},
		{
			name:    "malformed yaml",
			content: "plans: [",
			wantErr: "parsing plan file",
		},
		{
			name: "duplicate ids",
			content: `
plans:
  - id: a
  - id: a
`,
			wantErr: "duplicate plan",
		},
		{
			name: "missing parent",
			content: `
plans:
  - id: a
    inherits: [b]
`,
			wantErr: "non-existent plan",
		},
		{
			name: "circular inheritance",
			content: `
plans:
  - id: a
    inherits: [b]
  - id: b
    inherits: [a]
`,
			wantErr: "circular inheritance",
		},
		{
			name: "bad timeout key",
			content: `
plans:
  - id: a
    timeouts:
      Slow: 2s
`,
			wantErr: "must be Class.Method",
		},
		{
			name: "negative default timeout",
			content: `
default_timeout: -1s
plans: []
`,
			wantErr: "must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pf, err := LoadPlanFile(writePlan(t, tt.content))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, pf.Plans, 2)
		})
	}

	_, err := LoadPlanFile(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	assert.Error(t, err)
}

func TestPlanResolveDiamond(t *testing.T) {
	pf := &PlanFile{Plans: []Plan{
		{ID: "root", Classes: []string{"A"}},
		{ID: "left", Inherits: []string{"root"}, Classes: []string{"B"}},
		{ID: "right", Inherits: []string{"root"}, Classes: []string{"C"}},
		{ID: "top", Inherits: []string{"left", "right"}, Classes: []string{"D"}},
	}}
	require.NoError(t, pf.Validate())

	names, _, err := pf.Resolve("top")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "D"}, names)
}
