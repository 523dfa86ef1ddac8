package cmd

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kotoba-ai/kotoba/internal/agent"
	"github.com/kotoba-ai/kotoba/internal/app"
)

var (
	flagPersona     string
	flagDescription string
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Manage agents",
}

var agentsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			ag, err := a.Agents.Create(ctx, agent.CreateParams{
				OwnerID:     flagOwner,
				Name:        args[0],
				Persona:     flagPersona,
				Description: flagDescription,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Created agent %s (%s)\n", ag.Name, ag.ID)
			return nil
		})
	},
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			agents, err := a.Agents.List(ctx, flagOwner)
			if err != nil {
				return err
			}
			if len(agents) == 0 {
				fmt.Println("No agents yet. Create one with: kotoba agents create <name>")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTRAINED\tDESCRIPTION")
			for _, ag := range agents {
				trained := "-"
				if len(ag.TrainingFiles) > 0 {
					trained = strings.Join(ag.TrainingFiles, ", ")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ag.ID, ag.Name, trained, ag.Description)
			}
			return w.Flush()
		})
	},
}

var agentsShowCmd = &cobra.Command{
	Use:   "show <agent>",
	Short: "Show one agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			ag, err := resolveAgent(ctx, a, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("ID:          %s\n", ag.ID)
			fmt.Printf("Name:        %s\n", ag.Name)
			fmt.Printf("Store:       %s\n", ag.StoreName)
			fmt.Printf("Persona:     %s\n", ag.Persona)
			fmt.Printf("Description: %s\n", ag.Description)
			fmt.Printf("Picture:     %s\n", ag.PictureURL)
			fmt.Printf("Trained on:  %s\n", strings.Join(ag.TrainingFiles, ", "))
			fmt.Printf("Created:     %s\n", ag.CreatedAt.Format("2006-01-02 15:04"))
			return nil
		})
	},
}

var agentsRenameCmd = &cobra.Command{
	Use:   "rename <agent> <new-name>",
	Short: "Rename an agent and its knowledge store",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			ag, err := resolveAgent(ctx, a, args[0])
			if err != nil {
				return err
			}
			renamed, err := a.Agents.Rename(ctx, flagOwner, ag.ID, args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Renamed %s to %s (store %s)\n", ag.Name, renamed.Name, renamed.StoreName)
			return nil
		})
	},
}

var agentsDeleteCmd = &cobra.Command{
	Use:   "delete <agent>",
	Short: "Delete an agent, its chats, and its knowledge store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			ag, err := resolveAgent(ctx, a, args[0])
			if err != nil {
				return err
			}
			if err := a.Agents.Delete(ctx, flagOwner, ag.ID); err != nil {
				return err
			}
			fmt.Printf("Deleted agent %s\n", ag.Name)
			return nil
		})
	},
}

func init() {
	agentsCreateCmd.Flags().StringVar(&flagPersona, "persona", "", "persona instructions for the agent")
	agentsCreateCmd.Flags().StringVar(&flagDescription, "description", "", "short description")

	agentsCmd.AddCommand(agentsCreateCmd)
	agentsCmd.AddCommand(agentsListCmd)
	agentsCmd.AddCommand(agentsShowCmd)
	agentsCmd.AddCommand(agentsRenameCmd)
	agentsCmd.AddCommand(agentsDeleteCmd)
	rootCmd.AddCommand(agentsCmd)
}
