package models

import "time"

// PageView is a single recorded navigation.
type PageView struct {
	ID       string    `json:"id" yaml:"id"`
	UserID   string    `json:"user_id" yaml:"user_id"`
	Path     string    `json:"path" yaml:"path"`
	ViewedAt time.Time `json:"viewed_at" yaml:"viewed_at"`
}

// SessionRecord is the persisted history of one login session.
type SessionRecord struct {
	ID             string        `json:"id" yaml:"id"`
	UserID         string        `json:"user_id" yaml:"user_id"`
	StartedAt      time.Time     `json:"started_at" yaml:"started_at"`
	EndedAt        *time.Time    `json:"ended_at,omitempty" yaml:"ended_at,omitempty"`
	ActiveDuration time.Duration `json:"active_duration" yaml:"active_duration"`
}

// Stats are aggregate counts computed from storage.
type Stats struct {
	TotalUsers        int     `json:"total_users" yaml:"total_users"`
	ActiveSessions    int     `json:"active_sessions" yaml:"active_sessions"`
	PageViewsToday    int     `json:"page_views_today" yaml:"page_views_today"`
	TotalPageViews    int     `json:"total_page_views" yaml:"total_page_views"`
	AvgSessionSeconds float64 `json:"avg_session_seconds" yaml:"avg_session_seconds"`
}
