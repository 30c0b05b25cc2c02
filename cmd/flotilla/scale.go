package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/flotilla/pkg/api"
	"github.com/cuemby/flotilla/pkg/client"
)

var scaleCmd = &cobra.Command{
	Use:   "scale SERVICE",
	Short: "Change how many nodes a service runs on",
	Long: `Grow or shrink the node set of a service's latest successful
deployment. Scaling up provisions droplets and needs --region and
--size; scaling down releases the most recently added nodes first.`,
	Args: cobra.ExactArgs(1),
	RunE: runScale,
}

func init() {
	scaleCmd.Flags().Int("count", 0, "Target node count (required)")
	scaleCmd.Flags().String("env", "production", "Deployment environment")
	scaleCmd.Flags().String("region", "", "Droplet region for scale-up")
	scaleCmd.Flags().String("size", "", "Droplet size for scale-up")
	scaleCmd.Flags().String("snapshot", "", "Snapshot to boot new droplets from (default: base snapshot)")
	scaleCmd.Flags().String("server", "http://localhost:8080", "Control plane address")
	_ = scaleCmd.MarkFlagRequired("count")
	rootCmd.AddCommand(scaleCmd)
}

func runScale(cmd *cobra.Command, args []string) error {
	count, _ := cmd.Flags().GetInt("count")
	env, _ := cmd.Flags().GetString("env")
	region, _ := cmd.Flags().GetString("region")
	size, _ := cmd.Flags().GetString("size")
	snapshot, _ := cmd.Flags().GetString("snapshot")
	server, _ := cmd.Flags().GetString("server")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	body := &api.ScaleBody{
		Env:         env,
		TargetCount: count,
		Region:      region,
		Size:        size,
		SnapshotID:  snapshot,
		TriggeredBy: "cli",
	}
	result, err := client.New(server).Scale(ctx, args[0], body, printEvent)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("scale failed: %s", result.Error)
	}

	fmt.Printf("✓ Scale complete: %s\n", result.DeploymentID)
	return nil
}
