package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const configSkeleton = `# kiln run configuration. kilnctl reads ./kiln.conf, then
# /etc/kiln/kiln.conf; pass --config to use another file.
# Values may reference earlier keys or the environment via ${VAR}.

PKG_DIR=recipes
SRC_DIR=cache/sources
WORK_DIR=cache/work
ARTIFACT_DIR=cache/artifacts
LOG_DIR=cache/logs
DB_DIR=cache/db

#PARALLELISM=4
#RETRY_LIMIT=3
#RETRY_BACKOFF=5
#SCHEDULER=deps
#MIRRORS=https://mirror.example.org/sources
#REPORT=cache/logs/report.yaml
#EXCLUDE=usr/share/doc/*
`

const recipeSkeleton = `# One directory per package; this file must be named "recipe".
# Patches placed next to it under patches/ apply in lexical order.
VERSION=2.12.2
URL=https://ftp.gnu.org/gnu/hello/hello-${VERSION}.tar.gz
SHA256=da1e6f434bdb43e57e7a9e7e54f56bed7a623c23b0b91733dfa6656e4fc18828
BUILD_HINT=autotools
`

func init() {
	initCmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a workspace skeleton",
		Long: `Init writes a commented kiln.conf and an example recipe into the given
directory (default: the current directory). Existing files are left alone.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}

			for _, sub := range []string{filepath.Join("recipes", "hello"), "cache"} {
				if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
					return err
				}
			}

			files := []struct {
				path    string
				content string
			}{
				{filepath.Join(dir, "kiln.conf"), configSkeleton},
				{filepath.Join(dir, "recipes", "hello", "recipe"), recipeSkeleton},
			}

			wrote := 0
			for _, f := range files {
				if _, err := os.Stat(f.path); err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "keeping existing %s\n", f.path)
					continue
				}
				if err := os.WriteFile(f.path, []byte(f.content), 0o644); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", f.path)
				wrote++
			}

			if wrote > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "workspace ready, try: kilnctl resolve")
			}
			return nil
		},
	}

	RootCommand.AddCommand(initCmd)
}
