// Package recipe loads package build descriptors from the recipe tree. One
// package is one directory under PKG_DIR holding a `recipe` key=value file
// and, optionally, a `patches` directory.
package recipe

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"
)

// BuildSystem identifies how a source tree is configured, compiled and
// installed.
type BuildSystem string

const (
	Autotools BuildSystem = "autotools"
	CMake     BuildSystem = "cmake"
	Meson     BuildSystem = "meson"
	Makefile  BuildSystem = "makefile"
)

// Recipe is one package descriptor. Recipes are immutable once loaded; the
// scheduler and pipeline only ever read them.
type Recipe struct {
	Name      string
	Version   string
	URL       string
	SHA256    string
	BuildDeps []string
	RunDeps   []string
	Hint      BuildSystem // empty means detect from the source tree
	Stage     int
	Priority  string

	// Dir is the package directory in the recipe tree. Patches are read
	// from Dir/patches.
	Dir string
}

// Parse reads one recipe descriptor. name is the package directory name and
// doubles as the package identity; a NAME key, when present, must agree.
func Parse(name string, r io.Reader) (*Recipe, error) {
	rec := &Recipe{Name: name}

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		key, value, found := strings.Cut(text, "=")
		if !found {
			return nil, fmt.Errorf("recipe %s: line %d: expected KEY=VALUE, got %q", name, line, text)
		}
		if err := rec.set(strings.TrimSpace(key), strings.TrimSpace(value)); err != nil {
			return nil, fmt.Errorf("recipe %s: line %d: %w", name, line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("recipe %s: %w", name, err)
	}

	// URLs reference the package's own identity, e.g.
	// URL=https://example.org/${NAME}-${VERSION}.tar.gz
	rec.URL = os.Expand(rec.URL, func(key string) string {
		switch key {
		case "NAME":
			return rec.Name
		case "VERSION":
			return rec.Version
		}
		return ""
	})

	return rec, rec.validate()
}

func (r *Recipe) set(key, value string) error {
	switch key {
	case "NAME":
		if value != r.Name {
			return fmt.Errorf("NAME %q does not match package directory %q", value, r.Name)
		}
	case "VERSION":
		r.Version = value
	case "URL":
		r.URL = value
	case "SHA256":
		r.SHA256 = strings.ToLower(value)
	case "BUILD_DEPS":
		r.BuildDeps = splitList(value)
	case "RUN_DEPS":
		r.RunDeps = splitList(value)
	case "BUILD_HINT":
		switch hint := BuildSystem(strings.ToLower(value)); hint {
		case Autotools, CMake, Meson, Makefile:
			r.Hint = hint
		case "", "unknown": // detect from the source tree
		default:
			return fmt.Errorf("unknown BUILD_HINT %q", value)
		}
	case "STAGE":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("STAGE: expected integer, got %q", value)
		}
		r.Stage = n
	case "PRIORITY":
		r.Priority = value
	}
	// Unknown keys are ignored, recipes written for newer versions still load.
	return nil
}

func (r *Recipe) validate() error {
	if r.Version == "" {
		return fmt.Errorf("recipe %s: VERSION is required", r.Name)
	}
	if r.URL == "" {
		return fmt.Errorf("recipe %s: URL is required", r.Name)
	}
	if r.SHA256 != "" {
		if len(r.SHA256) != 64 {
			return fmt.Errorf("recipe %s: SHA256 must be 64 hex characters, got %d", r.Name, len(r.SHA256))
		}
		for _, c := range r.SHA256 {
			if !strings.ContainsRune("0123456789abcdef", c) {
				return fmt.Errorf("recipe %s: SHA256 contains non-hex character %q", r.Name, c)
			}
		}
	}
	return nil
}

func splitList(value string) []string {
	return strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
}
