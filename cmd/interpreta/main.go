// Command interpreta is the entry point of the Interpreta live interpreting
// server.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/interpreta/internal/app"
	"github.com/MrWong99/interpreta/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "interpreta: %v\n", err)
		return 1
	}
	return 0
}

// rootFlags are the persistent flags shared by all subcommands.
type rootFlags struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:   "interpreta",
		Short: "Live speech transcription and translation",
		Long: `Interpreta listens to a microphone, cuts speech into segments, transcribes
them, groups the text into sentence cards and translates every card.

Messages are written to the configured sinks: an in-memory store served on
/api/messages, PostgreSQL, SQLite, a Discord channel and live WebSocket
clients.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "config.yaml", "path to the YAML configuration file")

	root.AddCommand(
		newServeCmd(flags),
		newValidateCmd(flags),
		newDevicesCmd(),
	)
	return root
}

// newLogger builds the process logger. The returned LevelVar lets config
// reloads change the level later.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lv := &slog.LevelVar{}
	lv.Set(app.ParseLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})), lv
}
