package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kotoba-ai/kotoba/internal/app"
)

var trainCmd = &cobra.Command{
	Use:   "train <agent> <file...>",
	Short: "Build an agent's knowledge store from files",
	Long: `Ingest training files into the agent's knowledge store. The store is
rebuilt from scratch on every run: previous contents are replaced, not
appended to. Supported formats: .txt, .md, .json, .jsonl, .csv.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			ag, err := resolveAgent(ctx, a, args[0])
			if err != nil {
				return err
			}

			res, err := a.Train(ctx, flagOwner, ag.ID, args[1:])
			if err != nil {
				return err
			}

			fmt.Printf("Trained %s: %d files, %d chunks in %s\n",
				ag.Name, res.Files, res.Chunks, res.Elapsed.Round(time.Millisecond))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(trainCmd)
}
