package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kotoba-ai/kotoba/internal/app"
)

var imageCmd = &cobra.Command{
	Use:   "image <agent> <prompt...>",
	Short: "Generate a profile picture for an agent",
	Long: `Generate a profile picture from a text prompt and attach it to the
agent. Requires a Hugging Face API key (KOTOBA_HF_API_KEY).`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			ag, err := resolveAgent(ctx, a, args[0])
			if err != nil {
				return err
			}

			ref, err := a.GenerateAgentPicture(ctx, flagOwner, ag.ID, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Printf("Saved picture for %s: %s\n", ag.Name, ref)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(imageCmd)
}
