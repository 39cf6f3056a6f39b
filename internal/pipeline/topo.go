package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"stock-evalv1/internal/indicator"
)

// materializeDeps returns defs extended with definitions for any declared
// dependency that is not already present (e.g. the EMA a Bollinger centers
// on). The caller asked for the dependent indicator; its inputs come along.
func materializeDeps(defs []indicator.Definition) []indicator.Definition {
	present := make(map[string]bool, len(defs))
	for _, d := range defs {
		present[d.Name()] = true
	}

	out := make([]indicator.Definition, len(defs), len(defs)+2)
	copy(out, defs)
	for _, d := range defs {
		for _, dep := range d.DependsOn() {
			if present[dep] {
				continue
			}
			synth, ok := definitionFromName(dep)
			if !ok {
				continue // left unresolved; topoOrder reports it
			}
			out = append(out, synth)
			present[dep] = true
		}
	}
	return out
}

// definitionFromName parses a canonical name like "EMA_20" back into a
// definition. Only dependency-capable types need to round-trip.
func definitionFromName(name string) (indicator.Definition, bool) {
	i := strings.LastIndexByte(name, '_')
	if i <= 0 {
		return indicator.Definition{}, false
	}
	period, err := strconv.Atoi(name[i+1:])
	if err != nil || period <= 0 {
		return indicator.Definition{}, false
	}
	return indicator.Definition{Type: name[:i], Period: period}, true
}

// sortDefinitions orders definitions so every dependency precedes its
// dependents, materializing missing dependency definitions first.
// A cycle or an unresolvable dependency fails fast with ErrInvalidConfig —
// before any bar is processed.
func sortDefinitions(defs []indicator.Definition) ([]indicator.Definition, error) {
	if err := indicator.ValidateDefinitions(defs); err != nil {
		return nil, err
	}
	defs = materializeDeps(defs)

	byName := make(map[string]indicator.Definition, len(defs))
	names := make([]string, 0, len(defs))
	deps := make(map[string][]string, len(defs))
	for _, d := range defs {
		name := d.Name()
		byName[name] = d
		names = append(names, name)
		deps[name] = d.DependsOn()
	}

	order, err := topoOrder(names, deps)
	if err != nil {
		return nil, err
	}

	sorted := make([]indicator.Definition, len(order))
	for i, name := range order {
		sorted[i] = byName[name]
	}
	return sorted, nil
}

// topoOrder runs Kahn's algorithm over the declared dependency edges.
// The result is deterministic: ready nodes are emitted in input order.
func topoOrder(names []string, deps map[string][]string) ([]string, error) {
	indegree := make(map[string]int, len(names))
	dependents := make(map[string][]string, len(names))
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}

	for _, n := range names {
		for _, dep := range deps[n] {
			if !known[dep] {
				return nil, fmt.Errorf("%w: %s depends on unknown indicator %s",
					indicator.ErrInvalidConfig, n, dep)
			}
			indegree[n]++
			dependents[dep] = append(dependents[dep], n)
		}
	}

	queue := make([]string, 0, len(names))
	for _, n := range names {
		if indegree[n] == 0 {
			queue = append(queue, n)
		}
	}

	order := make([]string, 0, len(names))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for _, m := range dependents[n] {
			indegree[m]--
			if indegree[m] == 0 {
				queue = append(queue, m)
			}
		}
	}

	if len(order) != len(names) {
		var stuck []string
		for _, n := range names {
			if indegree[n] > 0 {
				stuck = append(stuck, n)
			}
		}
		return nil, fmt.Errorf("%w: dependency cycle among %v", indicator.ErrInvalidConfig, stuck)
	}
	return order, nil
}
