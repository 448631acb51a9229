package builder

import (
	"os"
	"path/filepath"

	"github.com/kiln-build/kiln/internal/recipe"
)

// prefix is the install prefix configured for every build system. Artifacts
// stage the tree under DestDir/usr and are meant to unpack at /.
const prefix = "/usr"

// step is one subprocess invocation of a build-system adapter. name doubles
// as the failing step's identity in BuildError.
type step struct {
	name string
	argv []string
	dir  string
}

// steps returns the configure/compile/stage sequence for a detected build
// system. Every sequence installs into destDir, both via DESTDIR in the
// command line and via the DESTDIR environment variable the caller exports.
func steps(system recipe.BuildSystem, srcRoot, destDir string) ([]step, error) {
	switch system {
	case recipe.Autotools:
		return autotoolsSteps(srcRoot, destDir), nil
	case recipe.CMake:
		return cmakeSteps(srcRoot, destDir), nil
	case recipe.Meson:
		return mesonSteps(srcRoot, destDir), nil
	case recipe.Makefile:
		return makefileSteps(srcRoot, destDir), nil
	}
	return nil, ErrUnknownBuildSystem
}

func autotoolsSteps(srcRoot, destDir string) []step {
	var seq []step

	// A hinted autotools tree may ship autogen.sh instead of a generated
	// configure script.
	if _, err := os.Stat(filepath.Join(srcRoot, "configure")); os.IsNotExist(err) {
		if _, err := os.Stat(filepath.Join(srcRoot, "autogen.sh")); err == nil {
			seq = append(seq, step{name: "autogen", argv: []string{"sh", "autogen.sh"}, dir: srcRoot})
		}
	}

	return append(seq,
		step{name: "configure", argv: []string{"./configure", "--prefix=" + prefix}, dir: srcRoot},
		step{name: "build", argv: []string{"make"}, dir: srcRoot},
		step{name: "install", argv: []string{"make", "DESTDIR=" + destDir, "install"}, dir: srcRoot},
	)
}

func cmakeSteps(srcRoot, destDir string) []step {
	return []step{
		{name: "configure", argv: []string{"cmake", "-S", ".", "-B", "build",
			"-DCMAKE_INSTALL_PREFIX=" + prefix, "-DCMAKE_BUILD_TYPE=Release"}, dir: srcRoot},
		{name: "build", argv: []string{"cmake", "--build", "build"}, dir: srcRoot},
		// cmake --install stages into $DESTDIR from the environment.
		{name: "install", argv: []string{"cmake", "--install", "build"}, dir: srcRoot},
	}
}

func mesonSteps(srcRoot, destDir string) []step {
	return []step{
		{name: "configure", argv: []string{"meson", "setup", "build", "--prefix=" + prefix}, dir: srcRoot},
		{name: "build", argv: []string{"meson", "compile", "-C", "build"}, dir: srcRoot},
		{name: "install", argv: []string{"meson", "install", "-C", "build", "--destdir", destDir}, dir: srcRoot},
	}
}

func makefileSteps(srcRoot, destDir string) []step {
	return []step{
		{name: "build", argv: []string{"make", "PREFIX=" + prefix}, dir: srcRoot},
		{name: "install", argv: []string{"make", "PREFIX=" + prefix, "DESTDIR=" + destDir, "install"}, dir: srcRoot},
	}
}
