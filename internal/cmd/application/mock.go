package application

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/agentstation/beacon"
	"github.com/agentstation/beacon/internal/server"
	"github.com/agentstation/beacon/internal/storage/sqlite"
)

// Mock implements Application with overridable functions. A nil function
// yields a zero or default value.
type Mock struct {
	BeaconFunc       func(ctx context.Context) (*beacon.Beacon, error)
	StorageFunc      func(ctx context.Context) (*sqlite.Store, error)
	ServerConfigFunc func() server.Config
	LoggerFunc       func() *zerolog.Logger
	OutputFormatFunc func() string
	VersionFunc      func() string
	CommitFunc       func() string
	DateFunc         func() string
	BuiltByFunc      func() string
}

// Beacon returns the mock's beacon or nil.
func (m *Mock) Beacon(ctx context.Context) (*beacon.Beacon, error) {
	if m.BeaconFunc != nil {
		return m.BeaconFunc(ctx)
	}
	return nil, nil
}

// Storage returns the mock's store or nil.
func (m *Mock) Storage(ctx context.Context) (*sqlite.Store, error) {
	if m.StorageFunc != nil {
		return m.StorageFunc(ctx)
	}
	return nil, nil
}

// ServerConfig returns the mock's config or server.DefaultConfig.
func (m *Mock) ServerConfig() server.Config {
	if m.ServerConfigFunc != nil {
		return m.ServerConfigFunc()
	}
	return server.DefaultConfig()
}

// Logger returns the mock's logger or a no-op logger.
func (m *Mock) Logger() *zerolog.Logger {
	if m.LoggerFunc != nil {
		return m.LoggerFunc()
	}
	logger := zerolog.Nop()
	return &logger
}

// OutputFormat returns the mock's format or "table".
func (m *Mock) OutputFormat() string {
	if m.OutputFormatFunc != nil {
		return m.OutputFormatFunc()
	}
	return "table"
}

// Version returns the mock's version or "dev".
func (m *Mock) Version() string {
	if m.VersionFunc != nil {
		return m.VersionFunc()
	}
	return "dev"
}

// Commit returns the mock's commit or "unknown".
func (m *Mock) Commit() string {
	if m.CommitFunc != nil {
		return m.CommitFunc()
	}
	return "unknown"
}

// Date returns the mock's date or "unknown".
func (m *Mock) Date() string {
	if m.DateFunc != nil {
		return m.DateFunc()
	}
	return "unknown"
}

// BuiltBy returns the mock's builder or "test".
func (m *Mock) BuiltBy() string {
	if m.BuiltByFunc != nil {
		return m.BuiltByFunc()
	}
	return "test"
}

var _ Application = (*Mock)(nil)
