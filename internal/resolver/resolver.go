// Package resolver computes a linear build order over a recipe store such
// that every package appears after its in-store build dependencies.
package resolver

import (
	"github.com/kiln-build/kiln/internal/recipe"
)

// Result is the outcome of one resolve pass. Order always contains every
// package in the store exactly once. Unresolved lists the packages that were
// appended without a satisfied dependency order because of a cycle or mutual
// dependency; callers should warn but may proceed.
type Result struct {
	Order      []string
	Unresolved []string
}

// Cyclic reports whether the resolve pass stalled on a dependency cycle.
func (r Result) Cyclic() bool {
	return len(r.Unresolved) > 0
}

// Resolve orders the store's packages with a greedy fixed point: scan the
// pending names, admit every name whose build dependencies are all resolved,
// repeat until a full scan admits nothing. Dependencies naming packages
// outside the store are satisfied externally and do not constrain the order.
// Worst case O(n²), fine for the few hundred packages a recipe tree holds.
//
// Names admitted by the same scan keep the store's lexical order; only the
// dependency partial order is contractual.
func Resolve(store *recipe.Store) Result {
	pending := store.Names()
	resolved := make(map[string]bool, len(pending))
	order := make([]string, 0, len(pending))

	for len(pending) > 0 {
		next := pending[:0:0]
		for _, name := range pending {
			if ready(store, resolved, name) {
				resolved[name] = true
				order = append(order, name)
			} else {
				next = append(next, name)
			}
		}
		if len(next) == len(pending) {
			// No progress: the remaining names form a cycle (or depend on
			// one). Emit them once, order unspecified, and let the build
			// find out.
			return Result{Order: append(order, next...), Unresolved: next}
		}
		pending = next
	}

	return Result{Order: order}
}

func ready(store *recipe.Store, resolved map[string]bool, name string) bool {
	for _, dep := range store.Get(name).BuildDeps {
		if store.Contains(dep) && !resolved[dep] {
			return false
		}
	}
	return true
}
