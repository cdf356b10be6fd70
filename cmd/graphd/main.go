// Command graphd runs a keyspace server: a single Unix-domain-socket
// daemon dispatching the query-language protocol against a set of
// manifest-declared keyspaces.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vaultgraph/graphd/internal/config"
)

var (
	cfgFile string
	flags   *pflag.FlagSet
)

var rootCmd = &cobra.Command{
	Use:           "graphd",
	Short:         "graphd runs a sharded, schema-validated graph keyspace server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a config file (TOML/YAML/JSON, read via viper)")
	flags = rootCmd.PersistentFlags()
	config.BindFlags(flags)

	rootCmd.AddCommand(serveCmd)
}

func loadConfig() (config.Config, error) {
	return config.Load(flags, cfgFile)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "graphd:", err)
		os.Exit(1)
	}
}
