package stats

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/beacon/internal/admin"
	"github.com/agentstation/beacon/internal/cmd/application"
	"github.com/agentstation/beacon/internal/storage/sqlite"
	"github.com/agentstation/beacon/pkg/models"
)

func seedStore(t *testing.T) *sqlite.Store {
	t.Helper()
	ctx := context.Background()
	st, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "beacon.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	now := time.Now().UTC()
	require.NoError(t, st.CreateUser(ctx, &models.User{
		ID: "u1", Email: "ada@example.com", Role: models.RoleAdmin, Status: models.StatusActive, CreatedAt: now,
	}))
	require.NoError(t, st.StartSession(ctx, &models.SessionRecord{ID: "s1", UserID: "u1", StartedAt: now}))
	require.NoError(t, st.AddSessionDuration(ctx, "s1", 2*time.Minute))
	require.NoError(t, st.InsertPageView(ctx, &models.PageView{UserID: "u1", Path: "/reports", ViewedAt: now}))
	require.NoError(t, st.InsertPageView(ctx, &models.PageView{UserID: "u1", Path: "/old", ViewedAt: now.Add(-48 * time.Hour)}))
	return st
}

func run(t *testing.T, format string) string {
	t.Helper()
	st := seedStore(t)
	app := &application.Mock{
		StorageFunc:      func(context.Context) (*sqlite.Store, error) { return st, nil },
		OutputFormatFunc: func() string { return format },
	}
	cmd := NewCommand(app)
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(nil)
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	return buf.String()
}

func TestStats(t *testing.T) {
	tests := []struct {
		format string
		check  func(t *testing.T, out string)
	}{
		{
			format: "json",
			check: func(t *testing.T, out string) {
				var got admin.QuickStats
				require.NoError(t, json.Unmarshal([]byte(out), &got))
				assert.Equal(t, 1, got.TotalUsers)
				assert.Equal(t, 1, got.ActiveSessions)
				assert.Equal(t, 1, got.PageViewsToday)
				assert.Equal(t, 2, got.TotalPageViews)
				assert.Equal(t, float64(120), got.AvgSessionSeconds)
				assert.False(t, got.UpdatedAt.IsZero())
			},
		},
		{
			format: "yaml",
			check: func(t *testing.T, out string) {
				assert.Contains(t, out, "total_page_views: 2")
			},
		},
		{
			format: "table",
			check: func(t *testing.T, out string) {
				assert.Contains(t, out, "Total users")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			tt.check(t, run(t, tt.format))
		})
	}
}
