//go:build e2e

package cli

import (
	"cmp"
	"os"
	"strings"
	"testing"

	"github.com/rogpeppe/go-internal/testscript"
)

// TestScript runs the txtar scripts in this directory against a kilnctl
// binary. Point KILNCTL at the binary under test, e.g.:
//
//	go build -o /tmp/kilnctl ./cmd/kilnctl
//	KILNCTL=/tmp/kilnctl go test -tags e2e ./e2e/cli
func TestScript(t *testing.T) {
	kilnctl := cmp.Or(os.Getenv("KILNCTL"), "kilnctl")

	testscript.Run(t, testscript.Params{
		Dir: ".",
		Setup: func(e *testscript.Env) error {
			e.Vars = append(e.Vars,
				"KILNCTL="+kilnctl,
				"HOME="+e.WorkDir,
			)
			for _, kv := range os.Environ() {
				if strings.HasPrefix(kv, "E2E_") {
					e.Vars = append(e.Vars, kv)
				}
			}
			return nil
		},
		// To update expectations in the txtar files, re-run with
		// E2E_UPDATE=y.
		UpdateScripts: os.Getenv("E2E_UPDATE") != "",
	})
}
