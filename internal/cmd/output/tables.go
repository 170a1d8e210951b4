package output

import (
	"io"
	"strconv"
	"time"

	"github.com/agentstation/beacon/internal/admin"
	"github.com/agentstation/beacon/pkg/models"
)

// Write renders data in format. Table formats render toTable(wide)
// instead of data.
func Write(w io.Writer, format Format, data any, toTable func(wide bool) Data) error {
	if format.IsTable() && toTable != nil {
		return NewFormatter(format).Format(w, toTable(format == FormatWide))
	}
	return NewFormatter(format).Format(w, data)
}

// UsersTable lists users. Wide adds timestamps.
func UsersTable(users []models.User, wide bool) Data {
	headers := []string{"ID", "Email", "Name", "Role", "Status"}
	if wide {
		headers = append(headers, "Created", "Last Seen")
	}

	rows := make([][]string, 0, len(users))
	for _, u := range users {
		row := []string{u.ID, u.Email, u.Name, string(u.Role), string(u.Status)}
		if wide {
			row = append(row, FormatTime(u.CreatedAt), FormatTime(u.LastSeenAt))
		}
		rows = append(rows, row)
	}
	return Data{Headers: headers, Rows: rows}
}

// StatsTable renders quick stats as metric/value pairs.
func StatsTable(s admin.QuickStats) Data {
	avg := time.Duration(s.AvgSessionSeconds * float64(time.Second)).Round(time.Second)
	return Data{
		Headers: []string{"Metric", "Value"},
		Rows: [][]string{
			{"Total users", strconv.Itoa(s.TotalUsers)},
			{"Active sessions", strconv.Itoa(s.ActiveSessions)},
			{"Page views today", strconv.Itoa(s.PageViewsToday)},
			{"Total page views", strconv.Itoa(s.TotalPageViews)},
			{"Average session", avg.String()},
		},
		ColumnAlignment: []Align{AlignLeft, AlignRight},
	}
}

// PageViewsTable lists page views, newest first as given.
func PageViewsTable(views []models.PageView) Data {
	rows := make([][]string, 0, len(views))
	for _, v := range views {
		rows = append(rows, []string{FormatTime(v.ViewedAt), v.UserID, v.Path})
	}
	return Data{Headers: []string{"Viewed", "User", "Path"}, Rows: rows}
}

// SessionsTable lists session records.
func SessionsTable(sessions []models.SessionRecord, wide bool) Data {
	headers := []string{"User", "Started", "Ended", "Active"}
	if wide {
		headers = append([]string{"Session"}, headers...)
	}

	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		ended := "open"
		if s.EndedAt != nil {
			ended = FormatTime(*s.EndedAt)
		}
		row := []string{s.UserID, FormatTime(s.StartedAt), ended, s.ActiveDuration.Round(time.Second).String()}
		if wide {
			row = append([]string{s.ID}, row...)
		}
		rows = append(rows, row)
	}
	return Data{Headers: headers, Rows: rows}
}
