// Package commands provides the relay CLI commands.
package commands

import (
	"fmt"

	"github.com/klejdi94/relay"
	"github.com/klejdi94/relay/config"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "0.1.0"

// Global flags
var (
	configPath  string
	logLevel    string
	providerArg string
	modelArg    string
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "relay - streaming completions from local and hosted LLM providers",
	Long: `relay streams completions from a local Ollama server or hosted chat APIs
and keeps the conversation history on disk, in SQLite, Redis, Postgres or S3.

Run 'relay chat' for an interactive session or 'relay ask' for a single prompt.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.relay/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().StringVarP(&providerArg, "provider", "p", "", "Provider id (default from config)")
	rootCmd.PersistentFlags().StringVarP(&modelArg, "model", "m", "", "Model id (default from config)")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(secretsCmd)
	rootCmd.AddCommand(analyticsCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

func openClient(cmd *cobra.Command) (*relay.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openClientWith(cmd, cfg)
}

func openClientWith(cmd *cobra.Command, cfg config.Config) (*relay.Client, error) {
	c, err := relay.Open(cmd.Context(), cfg)
	if err != nil {
		return nil, fmt.Errorf("open relay: %w", err)
	}
	return c, nil
}

// target resolves the provider and model for a completion from flags and config.
func target(c *relay.Client) (providerID, model string) {
	providerID, model = c.Config.Defaults.Provider, c.Config.Defaults.Model
	if providerArg != "" {
		providerID = providerArg
	}
	if modelArg != "" {
		model = modelArg
	}
	return providerID, model
}
