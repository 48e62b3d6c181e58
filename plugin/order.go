package plugin

import (
	"fmt"
	"sort"
	"strings"
)

// ResolveOrder returns the enabled plugins ordered so that every plugin
// follows its dependencies. Plugins with no ordering constraint between them
// are sorted by name. Disabled plugins are dropped, so depending on one is a
// missing dependency.
func ResolveOrder(plugins []Plugin) ([]Plugin, error) {
	byName := make(map[string]Plugin, len(plugins))
	deps := make(map[string][]string, len(plugins))
	for _, p := range plugins {
		d := p.Descriptor()
		if !d.Enabled {
			continue
		}
		if _, dup := byName[d.Name]; dup {
			continue
		}
		byName[d.Name] = p
		deps[d.Name] = d.Dependencies
	}

	indegree := make(map[string]int, len(byName))
	dependents := make(map[string][]string, len(byName))
	for name, ds := range deps {
		for _, dep := range ds {
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("%w: %s requires %s", ErrMissingDependency, name, dep)
			}
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for name := range byName {
		if indegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	ordered := make([]Plugin, 0, len(byName))
	for len(ready) > 0 {
		sort.Strings(ready)
		name := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byName[name])

		for _, dependent := range dependents[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(ordered) != len(byName) {
		var stuck []string
		for name := range byName {
			if indegree[name] > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("%w: %s", ErrDependencyCycle, strings.Join(stuck, ", "))
	}

	return ordered, nil
}
