package main

import (
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rk8s-dev/rk8s/pkg/apis"
)

var containerCmd = &cobra.Command{
	Use:   "container",
	Short: "Manage bare containers, each run inside its own single-container pod",
}

func init() {
	containerCmd.AddCommand(
		containerRunCmd, containerCreateCmd, containerStartCmd, containerDeleteCmd,
		containerStateCmd, containerListCmd, containerExecCmd,
	)
}

// loadContainerManifest wraps a standalone container spec into the
// single-container pod the agent's engines actually run, so "container"
// commands reuse every pod operation instead of a second code path.
func loadContainerManifest(path string) (apis.Pod, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return apis.Pod{}, err
	}
	var c apis.Container
	if err := yaml.Unmarshal(data, &c); err != nil {
		return apis.Pod{}, usage("invalid container manifest %s: %v", path, err)
	}
	if c.Name == "" {
		return apis.Pod{}, usage("container manifest %s is missing a name", path)
	}
	return apis.Pod{Name: c.Name, Containers: []apis.Container{c}}, nil
}

var containerRunCmd = &cobra.Command{
	Use:   "run <file.yaml>",
	Short: "Create and start a single container from a manifest file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pod, err := loadContainerManifest(args[0])
		if err != nil {
			return err
		}
		return createPod(cmd, pod)
	},
}

var containerCreateCmd = &cobra.Command{
	Use:   "create <file.yaml>",
	Short: "Create a single container from a manifest file",
	Args:  cobra.ExactArgs(1),
	RunE:  containerRunCmd.RunE,
}

var containerStartCmd = &cobra.Command{
	Use:   "start <name>",
	Short: "Confirm a created container is running",
	Args:  cobra.ExactArgs(1),
	RunE:  podStartCmd.RunE,
}

var containerDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a container",
	Args:  cobra.ExactArgs(1),
	RunE:  podDeleteCmd.RunE,
}

var containerStateCmd = &cobra.Command{
	Use:   "state <name>",
	Short: "Print a container's sandbox record",
	Args:  cobra.ExactArgs(1),
	RunE:  podStateCmd.RunE,
}

var containerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known containers",
	Args:  cobra.NoArgs,
	RunE:  podListCmd.RunE,
}

var containerExecCmd = &cobra.Command{
	Use:   "exec <name> -- <argv...>",
	Short: "Run a command inside a running container and wait for its exit",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, argv := args[0], args[1:]
		code, err := localAgent().Exec(cmd.Context(), name, name, argv, nil)
		if err != nil {
			return err
		}
		os.Exit(code)
		return nil
	},
}
