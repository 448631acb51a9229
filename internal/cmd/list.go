package cmd

import (
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kiln-build/kiln/internal/database"
)

func init() {
	var limit int

	list := &cobra.Command{
		Use:   "list [package]",
		Short: "List recorded builds, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			name := ""
			if len(args) == 1 {
				name = args[0]
			}

			ctx := cmd.Context()
			db := database.New().WithDir(cfg.DBDir).WithLogger(newLogger())
			if err := db.InitDB(ctx); err != nil {
				return err
			}
			defer db.CloseDB()

			builds, err := db.ListBuilds(ctx, name, limit)
			if err != nil {
				return err
			}

			table := tablewriter.NewTable(os.Stdout)
			table.Header("package", "version", "status", "attempts", "duration", "built", "artifact")
			for _, b := range builds {
				if err := table.Append(
					b.Name,
					b.Version,
					b.Status,
					strconv.Itoa(b.Attempts),
					b.Duration.Round(10*time.Millisecond).String(),
					b.BuildStart.Local().Format(time.DateTime),
					b.Artifact,
				); err != nil {
					return err
				}
			}
			return table.Render()
		},
	}

	list.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of rows, 0 for all")

	RootCommand.AddCommand(list)
}
