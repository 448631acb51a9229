package builder

import (
	"os"
	"path/filepath"

	"github.com/kiln-build/kiln/internal/recipe"
)

// markers lists the build-system probe files in detection precedence order.
var markers = []struct {
	file   string
	system recipe.BuildSystem
}{
	{"configure", recipe.Autotools},
	{"CMakeLists.txt", recipe.CMake},
	{"meson.build", recipe.Meson},
	{"Makefile", recipe.Makefile},
	{"GNUmakefile", recipe.Makefile},
}

// Detect returns the build system for the source tree at dir. An explicit
// recipe hint always wins; otherwise the tree is probed for marker files.
// No hint and no marker yields ErrUnknownBuildSystem.
func Detect(dir string, hint recipe.BuildSystem) (recipe.BuildSystem, error) {
	switch hint {
	case recipe.Autotools, recipe.CMake, recipe.Meson, recipe.Makefile:
		return hint, nil
	}

	for _, m := range markers {
		if _, err := os.Stat(filepath.Join(dir, m.file)); err == nil {
			return m.system, nil
		}
	}
	return "", ErrUnknownBuildSystem
}
