// Package activity provides the command that prints recent page views
// and sessions.
package activity

import (
	"github.com/spf13/cobra"

	"github.com/agentstation/beacon/internal/cmd/application"
	"github.com/agentstation/beacon/internal/cmd/output"
	"github.com/agentstation/beacon/pkg/errors"
	"github.com/agentstation/beacon/pkg/models"
)

// maxLimit matches the admin API's activity log cap.
const maxLimit = 500

// Log is the structured output of the activity command.
type Log struct {
	PageViews []models.PageView      `json:"page_views" yaml:"page_views"`
	Sessions  []models.SessionRecord `json:"sessions" yaml:"sessions"`
}

// NewCommand creates the activity command.
func NewCommand(app application.Application) *cobra.Command {
	var (
		limit    int
		sessions bool
	)
	cmd := &cobra.Command{
		Use:     "activity",
		GroupID: "core",
		Short:   "Show recent page views and sessions",
		Example: `  beacon activity --limit 20
  beacon activity --sessions -o wide
  beacon activity -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 1 || limit > maxLimit {
				return errors.NewValidationError("limit", limit, "must be between 1 and 500")
			}
			st, err := app.Storage(cmd.Context())
			if err != nil {
				return err
			}

			var log Log
			if log.PageViews, err = st.RecentPageViews(cmd.Context(), limit); err != nil {
				return err
			}
			if log.Sessions, err = st.RecentSessions(cmd.Context(), limit); err != nil {
				return err
			}

			format := output.DetectFormat(app.OutputFormat())
			return output.Write(cmd.OutOrStdout(), format, log, func(wide bool) output.Data {
				if sessions {
					return output.SessionsTable(log.Sessions, wide)
				}
				return output.PageViewsTable(log.PageViews)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of entries to show")
	cmd.Flags().BoolVar(&sessions, "sessions", false, "show sessions instead of page views in table output")
	return cmd
}
