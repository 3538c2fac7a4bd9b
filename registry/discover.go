package registry

import (
	"go/token"
)

// Entry is a discovered test: a concrete class and the method it resolves to.
type Entry struct {
	Class    *Class
	Declarer *Class
	Method   Method
}

// Discover returns the test methods of the given classes in order.
//
// Classes are deduplicated by identity. Methods are gathered from each class
// and its ancestors, most-derived first. For each method name only the
// declaration closest to the concrete class is kept, and only then are
// non-test methods dropped, so a non-test override hides an inherited test.
func Discover(classes []*Class) []Entry {
	var entries []Entry
	seen := make(map[*Class]struct{}, len(classes))
	for _, c := range classes {
		if c == nil {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		entries = append(entries, discoverClass(c)...)
	}
	return entries
}

func discoverClass(c *Class) []Entry {
	var order []string
	resolved := make(map[string]Entry)

	// The chain is walked most-derived first, so the first declaration of
	// a name is the one closest to the concrete class.
	for _, cls := range c.chain() {
		for _, m := range cls.methods {
			if !token.IsExported(m.Name) || m.Fn == nil {
				continue
			}
			if _, ok := resolved[m.Name]; ok {
				continue
			}
			order = append(order, m.Name)
			resolved[m.Name] = Entry{Class: c, Declarer: cls, Method: m}
		}
	}

	var entries []Entry
	for _, name := range order {
		if e := resolved[name]; e.Method.Test {
			entries = append(entries, e)
		}
	}
	return entries
}
