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

var rollbackCmd = &cobra.Command{
	Use:   "rollback SERVICE",
	Short: "Roll a service back to the previous version",
	Long: `Redeploy the image of the success before the current one. The
rollback runs as an ordinary deploy on the service's current nodes:
a new version number, the old image.`,
	Args: cobra.ExactArgs(1),
	RunE: runRollback,
}

func init() {
	rollbackCmd.Flags().String("env", "production", "Deployment environment")
	rollbackCmd.Flags().String("server", "http://localhost:8080", "Control plane address")
	rootCmd.AddCommand(rollbackCmd)
}

func runRollback(cmd *cobra.Command, args []string) error {
	env, _ := cmd.Flags().GetString("env")
	server, _ := cmd.Flags().GetString("server")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	body := &api.RollbackBody{Env: env, TriggeredBy: "cli"}
	result, err := client.New(server).Rollback(ctx, args[0], body, printEvent)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("rollback failed: %s", result.Error)
	}

	fmt.Printf("✓ Rollback complete: %s\n", result.DeploymentID)
	return nil
}
