package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kotoba-ai/kotoba/internal/app"
)

var blogCmd = &cobra.Command{
	Use:   "blog <heading...>",
	Short: "Generate a blog post for a heading",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			post, err := a.WriteBlog(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Print(post.Markdown())
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(blogCmd)
}
