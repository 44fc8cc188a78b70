// Command connpool exercises a session pool against PostgreSQL.
//
// Usage:
//
//	connpool <command> [flags]
//
// Commands:
//
//	check    Run concurrent acquire/prepare/exec/release cycles and print pool stats
//	evict    Ask listening pools to soft-evict their sessions
//	version  Show version information
//
// Connection settings come from the database_url key of the config file, or
// from the standard PostgreSQL environment variables:
//   - DATABASE_URL: Full connection string (overrides all other variables)
//   - PGHOST, PGPORT, PGUSER, PGPASSWORD, PGDATABASE
//
// Example:
//
//	connpool check --config pool.yaml --workers 16 --iterations 1000
//	connpool evict --channel connpool_evict orders
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	root := &cobra.Command{
		Use:           "connpool",
		Short:         "connpool - database session pool tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("connpool v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})
	root.AddCommand(newCheckCommand())
	root.AddCommand(newEvictCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
