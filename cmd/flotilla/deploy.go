package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/flotilla/pkg/api"
	"github.com/cuemby/flotilla/pkg/client"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy a service from a manifest",
	Long: `Deploy a service described by a YAML manifest.

The manifest names the service, environment and image, and where the
new version should run:

  service: svc-api
  env: production
  image:
    name: api_v2.tar
    path: ./build/api.tar     # optional: tarball to upload
  env_variables:
    LOG_LEVEL: info
  nodes:
    existing: [node-1, node-2]
    new:
      count: 1
      region: nyc3
      size: s-1vcpu-1gb

Progress streams until the deploy reaches a terminal state. Ctrl+C
asks the server to cancel; a deploy that has already switched traffic
finishes regardless.`,
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().StringP("file", "f", "", "Deploy manifest (required)")
	deployCmd.Flags().String("server", "http://localhost:8080", "Control plane address")
	_ = deployCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(deployCmd)
}

// deployManifest is the YAML form of a deploy request.
type deployManifest struct {
	Service      string            `yaml:"service"`
	Env          string            `yaml:"env"`
	Image        manifestImage     `yaml:"image"`
	EnvVariables map[string]string `yaml:"env_variables,omitempty"`
	Nodes        manifestNodes     `yaml:"nodes"`
}

type manifestImage struct {
	Name string `yaml:"name"`
	Path string `yaml:"path,omitempty"`
}

type manifestNodes struct {
	Existing []string          `yaml:"existing,omitempty"`
	New      *manifestNodeSpec `yaml:"new,omitempty"`
}

type manifestNodeSpec struct {
	Count    int    `yaml:"count"`
	Region   string `yaml:"region"`
	Size     string `yaml:"size"`
	Snapshot string `yaml:"snapshot,omitempty"`
}

func runDeploy(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	server, _ := cmd.Flags().GetString("server")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest deployManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("failed to parse manifest: %w", err)
	}

	body := &api.DeployBody{
		ServiceID:       manifest.Service,
		Env:             manifest.Env,
		ImageName:       manifest.Image.Name,
		EnvVariables:    manifest.EnvVariables,
		ExistingNodeIDs: manifest.Nodes.Existing,
		TriggeredBy:     "cli",
	}
	if manifest.Image.Path != "" {
		blob, err := os.ReadFile(manifest.Image.Path)
		if err != nil {
			return fmt.Errorf("failed to read image tarball: %w", err)
		}
		body.ImageBlob = blob
	}
	if spec := manifest.Nodes.New; spec != nil {
		body.NewNodes = &api.NodeSpecBody{
			Count:      spec.Count,
			Region:     spec.Region,
			Size:       spec.Size,
			SnapshotID: spec.Snapshot,
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := client.New(server).Deploy(ctx, body, printEvent)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("deploy failed: %s", result.Error)
	}

	fmt.Printf("✓ Deploy complete: %s\n", result.DeploymentID)
	return nil
}
