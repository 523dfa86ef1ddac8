package cmd

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kotoba-ai/kotoba/internal/app"
)

var flagChatID string

// chatContinueHint tells the user how to keep a new chat going. Plain ASCII
// so it renders the same in every terminal.
const chatContinueHint = "\n(chat %s - continue with --chat %s)\n"

var chatCmd = &cobra.Command{
	Use:   "chat <agent> <message...>",
	Short: "Send a message to an agent",
	Long: `Send one message to an agent. Without --chat a new chat is started and
its id printed; pass --chat <id> to continue an existing conversation.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			ag, err := resolveAgent(ctx, a, args[0])
			if err != nil {
				return err
			}

			var chatID *uuid.UUID
			if flagChatID != "" {
				id, err := uuid.Parse(flagChatID)
				if err != nil {
					return fmt.Errorf("invalid chat id %q: %w", flagChatID, err)
				}
				chatID = &id
			}

			message := strings.Join(args[1:], " ")
			res, err := a.ChatWithAgent(ctx, flagOwner, ag.ID, chatID, message)
			if err != nil {
				return err
			}

			fmt.Println(res.Answer)
			if chatID == nil {
				fmt.Printf(chatContinueHint, res.ChatID, res.ChatID)
			}
			return nil
		})
	},
}

var chatsCmd = &cobra.Command{
	Use:   "chats <agent>",
	Short: "List an agent's chats",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			ag, err := resolveAgent(ctx, a, args[0])
			if err != nil {
				return err
			}
			chats, err := a.Chats.ListChats(ctx, ag.ID, flagOwner)
			if err != nil {
				return err
			}
			if len(chats) == 0 {
				fmt.Printf("No chats with %s yet.\n", ag.Name)
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCREATED")
			for _, ch := range chats {
				fmt.Fprintf(w, "%s\t%s\t%s\n", ch.ID, ch.Name, ch.CreatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		})
	},
}

func init() {
	chatCmd.Flags().StringVar(&flagChatID, "chat", "", "existing chat id to continue")
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(chatsCmd)
}
