// Package dolt implements the IDAuthority and instance.Store
// collaborators over Dolt, for keyspaces whose manifest entry wants a
// versioned, diffable backing store instead of SQLite.
package dolt

import (
	"os"
	"time"
)

// Config configures a Dolt-backed Store. Embedded mode opens the
// database directly via the Dolt driver; server mode connects over the
// MySQL wire protocol to an already-running `dolt sql-server`, the only
// way to share one Dolt database across multiple graphd processes.
type Config struct {
	Path           string // database directory (embedded mode only)
	CommitterName  string
	CommitterEmail string
	Database       string // database name within Dolt (default: "graphd")
	LockRetries    int
	LockRetryDelay time.Duration

	ServerMode     bool
	ServerHost     string
	ServerPort     int
	ServerUser     string
	ServerPassword string
}

func (c *Config) applyDefaults() {
	if c.Database == "" {
		c.Database = "graphd"
	}
	if c.CommitterName == "" {
		c.CommitterName = "graphd"
	}
	if c.CommitterEmail == "" {
		c.CommitterEmail = "graphd@local"
	}
	if c.LockRetries == 0 {
		c.LockRetries = 30
	}
	if c.LockRetryDelay == 0 {
		c.LockRetryDelay = 100 * time.Millisecond
	}
	if c.ServerMode {
		if c.ServerHost == "" {
			c.ServerHost = "127.0.0.1"
		}
		if c.ServerPort == 0 {
			c.ServerPort = 3306
		}
		if c.ServerUser == "" {
			c.ServerUser = "root"
		}
		if c.ServerPassword == "" {
			c.ServerPassword = os.Getenv("GRAPHD_DOLT_PASSWORD")
		}
	}
}
