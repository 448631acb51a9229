package recipe

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Store is the read-only recipe collection for a run.
type Store struct {
	recipes map[string]*Recipe
}

// NewStore builds a store from already-parsed recipes, keyed by name.
func NewStore(recipes ...*Recipe) *Store {
	m := make(map[string]*Recipe, len(recipes))
	for _, r := range recipes {
		m[r.Name] = r
	}
	return &Store{recipes: m}
}

// LoadDir reads every package directory under the recipe tree. Directories
// without a `recipe` file are skipped; a malformed recipe aborts the load so
// a typo cannot silently drop a package from the run.
func LoadDir(dir string) (*Store, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("recipe tree: %w", err)
	}

	m := map[string]*Recipe{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		path := filepath.Join(dir, name, "recipe")
		f, err := os.Open(path)
		if os.IsNotExist(err) {
			continue
		} else if err != nil {
			return nil, err
		}
		rec, err := Parse(name, f)
		f.Close()
		if err != nil {
			return nil, err
		}
		rec.Dir = filepath.Join(dir, name)
		m[name] = rec
	}
	return &Store{recipes: m}, nil
}

// Get returns the recipe for name, nil when the name is not in the store.
func (s *Store) Get(name string) *Recipe {
	return s.recipes[name]
}

// Contains reports whether name is in the store. Dependencies outside the
// store are assumed to be satisfied externally.
func (s *Store) Contains(name string) bool {
	_, ok := s.recipes[name]
	return ok
}

// Names returns all package names in lexical order.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.recipes))
	for name := range s.recipes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Store) Len() int {
	return len(s.recipes)
}

// Subset returns a store restricted to the requested names and their
// transitive in-store build dependencies.
func (s *Store) Subset(names []string) (*Store, error) {
	m := map[string]*Recipe{}
	var visit func(name string) error
	visit = func(name string) error {
		if _, ok := m[name]; ok {
			return nil
		}
		rec := s.recipes[name]
		if rec == nil {
			return fmt.Errorf("unknown package %q", name)
		}
		m[name] = rec
		for _, dep := range rec.BuildDeps {
			if s.Contains(dep) {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		return nil
	}
	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return &Store{recipes: m}, nil
}
