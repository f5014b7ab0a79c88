// Command mimic is a Discord bot that speaks chat text in cloned voices.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/mimic/internal/app"
	"github.com/MrWong99/mimic/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const defaultConfigPath = "config.yaml"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "mimic: %v\n", err)
		return 1
	}
	return 0
}

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	envFiles   []string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "mimic",
		Short: "Speak Discord chat messages in cloned voices",
		Long: `mimic joins your Discord voice channel and reads text aloud in a voice
cloned from a short reference recording.

Running mimic without a subcommand starts the bot (same as "mimic serve").`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath,
		"path to the YAML configuration file (optional unless set explicitly)")
	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env"},
		".env files loaded into the environment before reading config")

	root.AddCommand(newServeCmd(opts), newVoicesCmd(opts), newSayCmd(opts))
	return root
}

// loadConfig reads the configuration selected by the persistent flags. A
// missing default config file is not an error; the environment alone can
// configure the bot.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, string, error) {
	path := opts.configPath
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}
	cfg, err := config.Load(path, opts.envFiles...)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("config file %q not found", path)
		}
		return nil, "", err
	}
	return cfg, path, nil
}

// newLogger installs a text logger on stderr whose level can be changed at
// runtime through the returned LevelVar.
func newLogger(level config.LogLevel) *slog.LevelVar {
	lv := new(slog.LevelVar)
	lv.Set(app.SlogLevel(level))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})))
	return lv
}
