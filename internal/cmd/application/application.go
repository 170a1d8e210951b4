// Package application defines what CLI commands need from the beacon
// application.
//
// Commands accept the Application interface rather than the concrete
// App type, so they can be tested with Mock:
//
//	mock := &application.Mock{
//	    BeaconFunc: func(context.Context) (*beacon.Beacon, error) {
//	        return testBeacon, nil
//	    },
//	}
//	cmd := stats.NewCommand(mock)
package application

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/agentstation/beacon"
	"github.com/agentstation/beacon/internal/server"
	"github.com/agentstation/beacon/internal/storage/sqlite"
)

// Application provides the dependencies shared by commands.
//
// All methods must be safe for concurrent use.
type Application interface {
	// Beacon returns the service graph, creating it on first use. The
	// application closes it on shutdown.
	Beacon(ctx context.Context) (*beacon.Beacon, error)

	// Storage returns the database without building the rest of the
	// service graph, for commands that only read or edit records.
	Storage(ctx context.Context) (*sqlite.Store, error)

	// ServerConfig returns the configured HTTP server settings. Command
	// flags override them.
	ServerConfig() server.Config

	// Logger returns the configured logger.
	Logger() *zerolog.Logger

	// OutputFormat returns the configured output format (table, wide, json, yaml).
	OutputFormat() string

	Version() string
	Commit() string
	Date() string
	BuiltBy() string
}
