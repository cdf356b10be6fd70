// Package config binds graphd's runtime configuration from flags,
// environment variables, and an optional config file, via
// github.com/spf13/viper — grounded on the teacher's doctor/config_values.go
// viper-binding idiom (viper.New, v.IsSet/GetString/GetInt), narrowed from
// "validate an issue tracker's config.yaml" down to "bind the handful of
// keys graphd's server and ID pool actually read."
package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is graphd's fully-resolved runtime configuration.
type Config struct {
	ShardingThreshold int

	IDRenewTimeout          time.Duration
	IDRenewBufferPercentage float64
	IDMinRenewCount         uint64
	IDUpperBound            uint64
	IDBlockSize             uint64

	ServerSocketPath    string
	ServerMaxConns      int
	ServerManifestPath  string
	ServerLockPath      string

	LogPath      string
	LogMaxSizeMB int
}

// Defaults returns the configuration graphd uses when neither a flag,
// environment variable, nor config file sets a value.
func Defaults() Config {
	return Config{
		ShardingThreshold:       10000,
		IDRenewTimeout:          30 * time.Second,
		IDRenewBufferPercentage: 0.1,
		IDMinRenewCount:         1000,
		IDUpperBound:            0,
		IDBlockSize:             100000,
		ServerSocketPath:        "/tmp/graphd.sock",
		ServerMaxConns:          64,
		ServerManifestPath:      "graphd.toml",
		ServerLockPath:          "graphd.lock",
		LogPath:                 "graphd.log",
		LogMaxSizeMB:            50,
	}
}

// BindFlags registers every config key as a cobra/pflag flag on fs,
// following the teacher's flags.go convention of one registration site
// shared by every subcommand that needs config.
func BindFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.Int("sharding-threshold", d.ShardingThreshold, "per-type instance count at which a new shard opens")
	fs.Duration("id-renew-timeout", d.IDRenewTimeout, "max wait for a background ID block fetch")
	fs.Float64("id-renew-buffer-percentage", d.IDRenewBufferPercentage, "fraction of a block at which prefetch starts")
	fs.Uint64("id-min-renew-count", d.IDMinRenewCount, "minimum buffered ID count before prefetch starts")
	fs.Uint64("id-upper-bound", d.IDUpperBound, "exclusive maximum ID per partition/namespace (0 = unbounded)")
	fs.Uint64("id-block-size", d.IDBlockSize, "IDs requested per block from the authority")
	fs.String("server-socket-path", d.ServerSocketPath, "unix socket path the server listens on")
	fs.Int("server-max-connections", d.ServerMaxConns, "bounded connection semaphore size")
	fs.String("server-manifest-path", d.ServerManifestPath, "path to the TOML keyspace manifest")
	fs.String("server-lock-path", d.ServerLockPath, "path to the single-instance lock file")
	fs.String("log-path", d.LogPath, "server log file path")
	fs.Int("log-max-size-mb", d.LogMaxSizeMB, "log rotation size in megabytes")
}

// Load resolves a Config from fs (already parsed), the environment
// (GRAPHD_ prefixed, following the teacher's env-override convention),
// and configFile if non-empty.
func Load(fs *pflag.FlagSet, configFile string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GRAPHD")
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("config: bind flags: %w", err)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	return Config{
		ShardingThreshold:       v.GetInt("sharding-threshold"),
		IDRenewTimeout:          v.GetDuration("id-renew-timeout"),
		IDRenewBufferPercentage: v.GetFloat64("id-renew-buffer-percentage"),
		IDMinRenewCount:         v.GetUint64("id-min-renew-count"),
		IDUpperBound:            v.GetUint64("id-upper-bound"),
		IDBlockSize:             v.GetUint64("id-block-size"),
		ServerSocketPath:        v.GetString("server-socket-path"),
		ServerMaxConns:          v.GetInt("server-max-connections"),
		ServerManifestPath:      v.GetString("server-manifest-path"),
		ServerLockPath:          v.GetString("server-lock-path"),
		LogPath:                 v.GetString("log-path"),
		LogMaxSizeMB:            v.GetInt("log-max-size-mb"),
	}, nil
}
