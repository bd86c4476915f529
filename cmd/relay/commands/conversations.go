package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/klejdi94/relay"
	"github.com/spf13/cobra"
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "Manage stored conversations",
}

func init() {
	conversationsCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List conversations, most recent first",
			Args:  cobra.NoArgs,
			RunE: withClient(func(cmd *cobra.Command, c *relay.Client, _ []string) error {
				printConversations(cmd.OutOrStdout(), c)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "show [id]",
			Short: "Print a conversation (default: the active one)",
			Args:  cobra.MaximumNArgs(1),
			RunE: withClient(func(cmd *cobra.Command, c *relay.Client, args []string) error {
				id := c.Store.ActiveID()
				if len(args) == 1 {
					id = args[0]
				}
				conv, ok := c.Store.Get(id)
				if !ok {
					return fmt.Errorf("no conversation %q", id)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s  %s  (%s/%s)\n\n", conv.ID, conv.Title, conv.ProviderID, conv.Model)
				for _, m := range conv.Messages {
					fmt.Fprintf(out, "[%s] %s\n\n", m.Role, m.Content)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "new",
			Short: "Create and activate an empty conversation",
			Args:  cobra.NoArgs,
			RunE: withClient(func(cmd *cobra.Command, c *relay.Client, _ []string) error {
				providerID, model := target(c)
				fmt.Fprintln(cmd.OutOrStdout(), c.Chat.NewConversation(cmd.Context(), model, providerID, nil))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "switch <id>",
			Short: "Activate a conversation",
			Args:  cobra.ExactArgs(1),
			RunE: withClient(func(cmd *cobra.Command, c *relay.Client, args []string) error {
				if !c.Chat.SwitchConversation(args[0], nil) {
					return fmt.Errorf("no conversation %q", args[0])
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "rename <title>",
			Short: "Rename the active conversation",
			Args:  cobra.ExactArgs(1),
			RunE: withClient(func(cmd *cobra.Command, c *relay.Client, args []string) error {
				if !c.Chat.RenameConversation(cmd.Context(), args[0], nil) {
					return fmt.Errorf("no active conversation")
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a conversation",
			Args:  cobra.ExactArgs(1),
			RunE: withClient(func(cmd *cobra.Command, c *relay.Client, args []string) error {
				if !c.Chat.DeleteConversation(cmd.Context(), args[0], nil) {
					return fmt.Errorf("no conversation %q", args[0])
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Delete every conversation",
			Args:  cobra.NoArgs,
			RunE: withClient(func(cmd *cobra.Command, c *relay.Client, _ []string) error {
				c.Store.ClearAll(cmd.Context())
				return nil
			}),
		},
	)
}

// withClient opens a client around run and closes it afterwards.
func withClient(run func(cmd *cobra.Command, c *relay.Client, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := openClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()
		return run(cmd, c, args)
	}
}

func printConversations(out io.Writer, c *relay.Client) {
	active := c.Store.ActiveID()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, conv := range c.Store.List() {
		mark := " "
		if conv.ID == active {
			mark = "*"
		}
		fmt.Fprintf(w, "%s %s\t%s\t%d\t%s\n", mark, conv.ID, conv.Title, len(conv.Messages), conv.UpdatedAt.Format("2006-01-02 15:04"))
	}
	w.Flush()
}
