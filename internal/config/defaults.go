// ABOUTME: Centralized configuration defaults for feedradar
// ABOUTME: Contains magic numbers and hardcoded values for display, fetching and storage

package config

import "time"

// HTTP settings
const (
	DefaultHTTPTimeout = 30 * time.Second
	DefaultWorkers     = 8
)

// Sync settings
const (
	DefaultCharmHost    = "charm.2389.dev"
	DefaultSyncInterval = 5 * time.Minute
)

// Display settings
const (
	DefaultListLimit = 20
	SeparatorWidth   = 60
	DateFormatShort  = "02 Jan 06 15:04 MST"
	DateFormatLong   = "Mon, 02 Jan 2006 15:04 MST"
)

// Storage settings
const (
	DBFilename      = "feedradar.db"
	DefaultDirPerms = 0o700
)
