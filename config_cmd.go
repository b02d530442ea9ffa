package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/linedrive-go/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigCheckCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides, secrets redacted",
		RunE:  runConfigShow,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if resolvedCfg == nil {
		return errors.New("no configuration loaded")
	}

	return config.RenderEffective(resolvedCfg, resolvedPath, cmd.OutOrStdout())
}

func newConfigCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check that the configuration is complete enough to serve",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.ValidateServe(resolvedCfg); err != nil {
				return err
			}

			statusf(flagQuiet, "Configuration OK.\n")

			return nil
		},
	}
}
