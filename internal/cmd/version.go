package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Version is overridden at release build time via
// -ldflags "-X github.com/kiln-build/kiln/internal/cmd.Version=...".
var Version = "dev"

func init() {
	version := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kilnctl %s %s/%s\n", Version, runtime.GOOS, runtime.GOARCH)
		},
	}

	RootCommand.AddCommand(version)
}
