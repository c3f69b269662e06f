package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vango-dev/sessionbridge/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sessionbridge",
		Short: "Session and token bridge for server-rendered Directus apps",
		Long: `sessionbridge keeps a Directus session alive across server-rendered
requests and the live page sessions that follow them.

It refreshes tokens once per request, guards routes that need a user,
and hands the result to the page so it never refreshes twice.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var dir string
	rootCmd.PersistentFlags().StringVarP(&dir, "dir", "d", ".", "Directory containing sessionbridge.json")

	rootCmd.AddCommand(
		serveCmd(&dir),
		configCmd(&dir),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		errors.Fprint(os.Stderr, err)
		os.Exit(1)
	}
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}
