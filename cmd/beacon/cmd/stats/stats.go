// Package stats provides the command that prints the dashboard's quick
// stats computed from the database.
package stats

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/agentstation/beacon/internal/admin"
	"github.com/agentstation/beacon/internal/cmd/application"
	"github.com/agentstation/beacon/internal/cmd/output"
	"github.com/agentstation/beacon/internal/sessiontracker"
)

// NewCommand creates the stats command.
func NewCommand(app application.Application) *cobra.Command {
	return &cobra.Command{
		Use:     "stats",
		GroupID: "core",
		Short:   "Show user and activity totals",
		Long: `Show the quick stats the admin dashboard displays: total users,
open sessions, page views today (UTC) and overall, and the average
active session length.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := app.Storage(cmd.Context())
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			raw, err := st.Stats(cmd.Context(), sessiontracker.StartOfDay(now))
			if err != nil {
				return err
			}
			quick := admin.FromStats(raw)
			quick.UpdatedAt = now

			format := output.DetectFormat(app.OutputFormat())
			return output.Write(cmd.OutOrStdout(), format, quick, func(bool) output.Data {
				return output.StatsTable(quick)
			})
		},
	}
}
