package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "flotilla",
	Short: "Flotilla - deployment control plane for droplet fleets",
	Long: `Flotilla deploys container images to fleets of cloud VMs running
the node agent, switches traffic to the new version once it proves
healthy, and keeps the fleet alive with automatic restarts and
reboots.

The server command runs the control plane; deploy, rollback and scale
talk to it over HTTP and stream progress until the operation reaches a
terminal state.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Flotilla version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
}

// printEvent writes one progress line; errors go to stderr.
func printEvent(msg, level string) {
	if level == "error" {
		fmt.Fprintln(os.Stderr, msg)
		return
	}
	fmt.Println(msg)
}
