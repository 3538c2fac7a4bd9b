package registry

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"
)

// PlanFile is the YAML document that groups registered classes into named
// plans.
type PlanFile struct {
	DefaultTimeout time.Duration `yaml:"default_timeout,omitempty"`
	Plans          []Plan        `yaml:"plans"`
}

// Plan selects classes by name. A plan may inherit the classes of other
// plans; inherited classes run first.
type Plan struct {
	ID          string                   `yaml:"id"`
	Description string                   `yaml:"description,omitempty"`
	Inherits    []string                 `yaml:"inherits,omitempty"`
	Classes     []string                 `yaml:"classes,omitempty"`
	Timeouts    map[string]time.Duration `yaml:"timeouts,omitempty"` // keyed by Class.Method
}

// LoadPlanFile reads and validates a plan file.
func LoadPlanFile(path string) (*PlanFile, error) {
	log.Debug("Reading plan file", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan file: %w", err)
	}

	var pf PlanFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parsing plan file: %w", err)
	}
	if err := pf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan file: %w", err)
	}
	return &pf, nil
}

// Validate checks plan IDs, inheritance and timeout keys.
func (pf *PlanFile) Validate() error {
	if pf.DefaultTimeout < 0 {
		return fmt.Errorf("default_timeout must not be negative")
	}
	plans := make(map[string]Plan, len(pf.Plans))
	for _, p := range pf.Plans {
		if p.ID == "" {
			return fmt.Errorf("plan with empty id")
		}
		if _, dup := plans[p.ID]; dup {
			return fmt.Errorf("duplicate plan %q", p.ID)
		}
		for key, d := range p.Timeouts {
			if _, _, ok := splitMethodKey(key); !ok {
				return fmt.Errorf("plan %q: timeout key %q must be Class.Method", p.ID, key)
			}
			if d <= 0 {
				return fmt.Errorf("plan %q: timeout for %q must be positive", p.ID, key)
			}
		}
		plans[p.ID] = p
	}
	for _, p := range pf.Plans {
		if err := checkCircularInheritance(p.ID, p.Inherits, plans, make(map[string]bool)); err != nil {
			return err
		}
	}
	return nil
}

// Plan returns the plan with the given ID.
func (pf *PlanFile) Plan(id string) (Plan, bool) {
	for _, p := range pf.Plans {
		if p.ID == id {
			return p, true
		}
	}
	return Plan{}, false
}

// Resolve flattens inheritance: it returns the class names of the plan and
// its ancestors, ancestors first and without duplicates, and the merged
// timeouts where the plan's own entries take precedence.
func (pf *PlanFile) Resolve(id string) ([]string, map[string]time.Duration, error) {
	p, ok := pf.Plan(id)
	if !ok {
		return nil, nil, fmt.Errorf("plan %q not found", id)
	}

	var names []string
	seen := make(map[string]bool)
	timeouts := make(map[string]time.Duration)

	var visit func(p Plan, processed map[string]bool) error
	visit = func(p Plan, processed map[string]bool) error {
		if processed[p.ID] {
			return fmt.Errorf("circular inheritance detected for plan %q", p.ID)
		}
		processed[p.ID] = true
		defer delete(processed, p.ID)

		for _, parentID := range p.Inherits {
			parent, ok := pf.Plan(parentID)
			if !ok {
				return fmt.Errorf("plan %q inherits from non-existent plan %q", p.ID, parentID)
			}
			if err := visit(parent, processed); err != nil {
				return err
			}
		}
		for _, name := range p.Classes {
			key := strings.ToLower(name)
			if !seen[key] {
				seen[key] = true
				names = append(names, name)
			}
		}
		// descendants are visited after ancestors, so their timeouts win
		for k, v := range p.Timeouts {
			timeouts[k] = v
		}
		return nil
	}

	if err := visit(p, make(map[string]bool)); err != nil {
		return nil, nil, err
	}
	return names, timeouts, nil
}

// checkCircularInheritance detects circular dependencies in plan inheritance
func checkCircularInheritance(currentID string, inherits []string, plans map[string]Plan, visited map[string]bool) error {
	if visited[currentID] {
		return fmt.Errorf("circular inheritance detected at plan %s", currentID)
	}

	visited[currentID] = true
	defer delete(visited, currentID)

	for _, inheritedID := range inherits {
		inherited, exists := plans[inheritedID]
		if !exists {
			return fmt.Errorf("plan %s inherits from non-existent plan %s", currentID, inheritedID)
		}
		if err := checkCircularInheritance(inheritedID, inherited.Inherits, plans, visited); err != nil {
			return err
		}
	}
	return nil
}

func splitMethodKey(key string) (class, method string, ok bool) {
	i := strings.LastIndex(key, ".")
	if i <= 0 || i == len(key)-1 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}
