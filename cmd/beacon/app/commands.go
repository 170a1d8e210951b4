package app

import (
	"github.com/spf13/cobra"

	"github.com/agentstation/beacon/cmd/beacon/cmd/activity"
	"github.com/agentstation/beacon/cmd/beacon/cmd/serve"
	"github.com/agentstation/beacon/cmd/beacon/cmd/stats"
	"github.com/agentstation/beacon/cmd/beacon/cmd/users"
)

// registerCommands wires every subcommand to the app.
func (a *App) registerCommands(rootCmd *cobra.Command) {
	// Core commands
	rootCmd.AddCommand(serve.NewCommand(a))
	rootCmd.AddCommand(stats.NewCommand(a))
	rootCmd.AddCommand(activity.NewCommand(a))

	// Management commands
	rootCmd.AddCommand(users.NewCommand(a))

	rootCmd.AddCommand(a.newVersionCommand())
}

func (a *App) newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("beacon %s\n", a.version)
			if a.config.Verbose {
				cmd.Printf("  commit:   %s\n", a.commit)
				cmd.Printf("  built:    %s\n", a.date)
				cmd.Printf("  built by: %s\n", a.builtBy)
			}
		},
	}
}
