package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vango-dev/sessionbridge/internal/config"
)

func configCmd(dir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate sessionbridge.json and the environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*dir)
			if err != nil {
				return err
			}
			source := cfg.Path()
			if source == "" {
				source = "environment"
			}
			success("Configuration is valid (%s)", source)
			fmt.Printf("  Remote:  %s\n", cfg.URL)
			fmt.Printf("  Mode:    %s\n", cfg.Mode())
			fmt.Printf("  Address: %s\n", cfg.Server.Addr)
			for _, g := range cfg.Guards() {
				fmt.Printf("  Guard:   %s (global=%t, redirect=%s)\n", g.Name, g.Global, g.RedirectTo)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "env",
		Short: "List the recognized environment variables",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Print(config.Usage())
		},
	})

	return cmd
}
