package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rk8s-dev/rk8s/pkg/agent"
	"github.com/rk8s-dev/rk8s/pkg/apis"
	"github.com/rk8s-dev/rk8s/pkg/cluster"
)

var podCmd = &cobra.Command{
	Use:   "pod",
	Short: "Manage pod sandboxes",
}

func init() {
	podCmd.AddCommand(
		podRunCmd, podCreateCmd, podStartCmd, podDeleteCmd,
		podStateCmd, podListCmd, podExecCmd, podDaemonCmd,
	)
}

func loadPodManifest(path string) (apis.Pod, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return apis.Pod{}, err
	}
	var pod apis.Pod
	if err := yaml.Unmarshal(data, &pod); err != nil {
		return apis.Pod{}, usage("invalid pod manifest %s: %v", path, err)
	}
	return pod, nil
}

func localAgent() *agent.Agent {
	driver, err := buildDriver(defaultPodCIDR)
	if err != nil {
		// A bridge driver is only needed for pods that actually get
		// networked; CLI calls that merely read state still need an Agent.
		driver = nil
	}
	return agent.New(buildAgentConfig(), driver, "local")
}

func createPod(cmd *cobra.Command, pod apis.Pod) error {
	if useCluster {
		_, err := resultError(callMaster(cmd.Context(), cluster.CreatePod, cluster.CreatePodMsg{Pod: pod}))
		return err
	}
	return localAgent().CreatePod(cmd.Context(), pod)
}

var podRunCmd = &cobra.Command{
	Use:   "run <file.yaml>",
	Short: "Create and start a pod from a manifest file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pod, err := loadPodManifest(args[0])
		if err != nil {
			return err
		}
		return createPod(cmd, pod)
	},
}

var podCreateCmd = &cobra.Command{
	Use:   "create <file.yaml>",
	Short: "Create a pod from a manifest file without waiting for it to report running",
	Args:  cobra.ExactArgs(1),
	RunE:  podRunCmd.RunE,
}

var podStartCmd = &cobra.Command{
	Use:   "start <name>",
	Short: "Confirm a created pod is running",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if useCluster {
			return fmt.Errorf("pod start is a local-host confirmation; omit --cluster")
		}
		return localAgent().Start(args[0])
	},
}

var podDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a pod and its containers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if useCluster {
			_, err := resultError(callMaster(cmd.Context(), cluster.DeletePod, cluster.DeletePodMsg{Name: args[0]}))
			return err
		}
		return localAgent().DeletePod(cmd.Context(), args[0])
	},
}

var podStateCmd = &cobra.Command{
	Use:   "state <name>",
	Short: "Print a pod's sandbox record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, running, err := localAgent().State(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("sandbox: %s\nrunning: %t\ncontainers: %v\n", rec.SandboxID, running, rec.Containers)
		return nil
	},
}

var podListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known pods",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if useCluster {
			resp, err := resultError(callMaster(cmd.Context(), cluster.ListPod, nil))
			if err != nil {
				return err
			}
			var res cluster.ListPodResMsg
			if err := cluster.Decode(resp, &res); err != nil {
				return err
			}
			for _, p := range res.Pods {
				fmt.Printf("%s\t%s\n", p.Name, p.NodeName)
			}
			return nil
		}
		names, err := localAgent().ListPods()
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

var podExecCmd = &cobra.Command{
	Use:   "exec <name> <container> -- <argv...>",
	Short: "Run a command inside a running container and wait for its exit",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		podName, containerName, argv := args[0], args[1], args[2:]
		code, err := localAgent().Exec(cmd.Context(), podName, containerName, argv, nil)
		if err != nil {
			return err
		}
		os.Exit(code)
		return nil
	},
}

var podDaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the persistent node agent: static-pod watcher, heartbeats, and (with --cluster) the master connection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(cmd.Context())
	},
}
