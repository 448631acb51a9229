package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kiln-build/kiln/internal/service"
)

func init() {
	resolve := &cobra.Command{
		Use:   "resolve [package...]",
		Short: "Print the build order without building",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			res, err := service.New().
				WithConfig(cfg).
				WithLogger(newLogger()).
				WithPackages(args).
				Resolve()
			if err != nil {
				return err
			}

			for _, name := range res.Order {
				fmt.Fprintln(os.Stdout, name)
			}
			if res.Cyclic() {
				fmt.Fprintf(os.Stderr, "warning: dependency cycle involving %v\n", res.Unresolved)
			}
			return nil
		},
	}

	RootCommand.AddCommand(resolve)
}
