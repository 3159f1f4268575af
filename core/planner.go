package core

import (
	"sort"
	"strings"

	imperr "imp/errors"
	"imp/logger"
)

// planLibraries linearizes an application's libraries so that every
// library appears after all of its declared dependencies. Dependencies are
// resolved by name against the application's own library list: when a
// library carries a reference to a different copy of a same-named
// definition, the application's copy wins with a warning, since users may
// compose libraries from multiple sources.
func planLibraries(app *Application, log logger.Logger) ([]*Library, error) {
	byName := make(map[string]*Library, len(app.libraries))
	for _, lib := range app.libraries {
		byName[lib.name] = lib
	}

	for _, lib := range app.libraries {
		for _, dep := range lib.depends {
			actual, ok := byName[dep.name]
			if !ok {
				return nil, imperr.New(imperr.CodeMissingDependency, "library %q depends on %q, which the application does not include", lib.name, dep.name)
			}
			if actual != dep {
				log.Warn(logger.Fields{
					"library":    lib.name,
					"dependency": dep.name,
				}, "dependency reference differs from the application's copy, using the application's")
			}
		}
	}

	placed := make([]*Library, 0, len(app.libraries))
	placedSet := make(map[string]bool, len(app.libraries))
	remaining := append([]*Library(nil), app.libraries...)

	for len(remaining) > 0 {
		var next []*Library
		progress := false
		for _, lib := range remaining {
			ready := true
			for _, dep := range lib.depends {
				if !placedSet[dep.name] {
					ready = false
					break
				}
			}
			if ready {
				placed = append(placed, lib)
				placedSet[lib.name] = true
				progress = true
				continue
			}
			next = append(next, lib)
		}
		if !progress {
			names := make([]string, 0, len(placed))
			for _, lib := range placed {
				names = append(names, lib.name)
			}
			return nil, imperr.New(imperr.CodeBadSort, "library dependencies cannot be linearized; placed so far: [%s]", strings.Join(names, ", "))
		}
		remaining = next
	}
	return placed, nil
}

// wireOrder returns the construction order for one module's services: the
// priority list first, then the remaining services in sorted order so
// repeated bootstraps wire identically.
func wireOrder(priorityInit []string, services map[string]ServiceFactory) []string {
	order := append([]string(nil), priorityInit...)
	inPriority := make(map[string]bool, len(priorityInit))
	for _, svc := range priorityInit {
		inPriority[svc] = true
	}

	rest := make([]string, 0, len(services))
	for svc := range services {
		if !inPriority[svc] {
			rest = append(rest, svc)
		}
	}
	sort.Strings(rest)
	return append(order, rest...)
}
