package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrWong99/interpreta/internal/config"
)

func newValidateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: OK\n", flags.configPath)
			fmt.Fprintf(out, "  stt:       %s\n", cfg.Providers.STT.Name)
			fmt.Fprintf(out, "  translate: %s\n", cfg.Providers.Translate.Name)
			fmt.Fprintf(out, "  languages: %s -> %s\n", cfg.Languages.Source, cfg.Languages.Target)
			return nil
		},
	}
}
