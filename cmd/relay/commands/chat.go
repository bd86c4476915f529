package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/klejdi94/relay"
	"github.com/klejdi94/relay/chat"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat in the active conversation",
	Long: `Start an interactive chat. Ctrl-C stops the response being streamed;
Ctrl-D or /quit leaves.

Commands inside the chat:
  /new             start a new conversation
  /list            list conversations
  /switch <id>     switch to a conversation
  /delete <id>     delete a conversation
  /title <title>   rename the active conversation
  /quit            leave`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

var askCmd = &cobra.Command{
	Use:   "ask <prompt...>",
	Short: "Send one prompt in the active conversation and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return turn(ctx, c, cmd.OutOrStdout(), strings.Join(args, " "))
	},
}

func runChat(cmd *cobra.Command, _ []string) error {
	c, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	out := cmd.OutOrStdout()
	providerID, model := target(c)
	fmt.Fprintf(out, "relay chat (%s/%s). /quit to leave.\n", providerID, model)
	in := bufio.NewScanner(cmd.InOrStdin())
	in.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !in.Scan() {
			fmt.Fprintln(out)
			return in.Err()
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := slash(cmd.Context(), c, out, line); quit {
				return nil
			}
			continue
		}
		// Errors were already shown through the event stream.
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		_ = turn(ctx, c, out, line)
		stop()
	}
}

// turn streams one reply to out, printing only the text each update adds.
func turn(ctx context.Context, c *relay.Client, out io.Writer, prompt string) error {
	providerID, model := target(c)
	printed := ""
	err := c.Chat.Send(ctx, prompt, model, providerID, func(ev chat.Event) {
		switch ev.Command {
		case chat.CommandUpdateResponse:
			if strings.HasPrefix(ev.Content, printed) {
				fmt.Fprint(out, ev.Content[len(printed):])
			} else {
				fmt.Fprint(out, "\n"+ev.Content)
			}
			printed = ev.Content
		case chat.CommandResponseComplete:
			if ev.Cancelled {
				fmt.Fprint(out, " [stopped]")
			}
			fmt.Fprintln(out)
		case chat.CommandError:
			fmt.Fprintln(out, "\n"+ev.Error)
		}
	})
	if errors.Is(err, chat.ErrBusy) {
		fmt.Fprintln(out, err)
	}
	return err
}

func slash(ctx context.Context, c *relay.Client, out io.Writer, line string) (quit bool) {
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)
	providerID, model := target(c)
	switch name {
	case "quit", "exit":
		return true
	case "new":
		id := c.Chat.NewConversation(ctx, model, providerID, nil)
		fmt.Fprintln(out, "new conversation", id)
	case "list":
		printConversations(out, c)
	case "switch":
		if !c.Chat.SwitchConversation(arg, nil) {
			fmt.Fprintln(out, "no conversation", arg)
		}
	case "delete":
		if !c.Chat.DeleteConversation(ctx, arg, nil) {
			fmt.Fprintln(out, "no conversation", arg)
		}
	case "title":
		if !c.Chat.RenameConversation(ctx, arg, nil) {
			fmt.Fprintln(out, "no active conversation")
		}
	default:
		fmt.Fprintln(out, "unknown command /"+name)
	}
	return false
}
