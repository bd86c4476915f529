package commands

import (
	"bufio"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/klejdi94/relay"
	"github.com/spf13/cobra"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List registered providers",
	Args:  cobra.NoArgs,
	RunE: withClient(func(cmd *cobra.Command, c *relay.Client, _ []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tKIND\tENABLED\tKEY\tBASE URL")
		for _, d := range c.Gateway.Providers() {
			key := "-"
			if d.RequiresKey {
				key = "missing"
				if v, err := c.Secrets.GetSecret(cmd.Context(), d.ID); err == nil && v != "" {
					key = "set"
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n", d.ID, d.DisplayName, d.Kind, d.Enabled, key, d.BaseURL)
		}
		return w.Flush()
	}),
}

var modelsCmd = &cobra.Command{
	Use:   "models [provider]",
	Short: "List models offered by a provider",
	Long: `List models offered by a provider.

Examples:
  relay models            # models of the default provider
  relay models anthropic  # models of Anthropic`,
	Args: cobra.MaximumNArgs(1),
	RunE: withClient(func(cmd *cobra.Command, c *relay.Client, args []string) error {
		providerID, _ := target(c)
		if len(args) == 1 {
			providerID = args[0]
		}
		models, err := c.Gateway.ListModels(cmd.Context(), providerID)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		for _, m := range models {
			ctxLen := ""
			if m.ContextLength > 0 {
				ctxLen = fmt.Sprint(m.ContextLength)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", m.ID, m.Name, ctxLen)
		}
		return w.Flush()
	}),
}

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Store or remove provider API keys",
}

func init() {
	secretsCmd.AddCommand(
		&cobra.Command{
			Use:   "set <provider> [key]",
			Short: "Store the API key for a provider (read from stdin when omitted)",
			Args:  cobra.RangeArgs(1, 2),
			RunE: withClient(func(cmd *cobra.Command, c *relay.Client, args []string) error {
				if _, ok := c.Registry.Get(args[0]); !ok {
					return fmt.Errorf("unknown provider %q", args[0])
				}
				key := ""
				if len(args) == 2 {
					key = args[1]
				} else {
					line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
					if err != nil && line == "" {
						return fmt.Errorf("read key: %w", err)
					}
					key = line
				}
				key = strings.TrimSpace(key)
				if key == "" {
					return fmt.Errorf("empty key")
				}
				return c.Secrets.SetSecret(cmd.Context(), args[0], key)
			}),
		},
		&cobra.Command{
			Use:   "delete <provider>",
			Short: "Remove the stored API key for a provider",
			Args:  cobra.ExactArgs(1),
			RunE: withClient(func(cmd *cobra.Command, c *relay.Client, args []string) error {
				return c.Secrets.DeleteSecret(cmd.Context(), args[0])
			}),
		},
	)
}
