package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rk8s-dev/rk8s/pkg/apis"
	"github.com/rk8s-dev/rk8s/pkg/cluster"
)

// composeService is the subset of docker-compose's per-service schema this
// runtime understands: an image, a command, environment variables, and
// volume mounts. Every service in one file becomes one container in one
// pod, so they share a network namespace the way a compose project's
// default network does.
type composeService struct {
	Image       string   `yaml:"image"`
	Command     []string `yaml:"command,omitempty"`
	Entrypoint  []string `yaml:"entrypoint,omitempty"`
	Environment []string `yaml:"environment,omitempty"`
	Volumes     []string `yaml:"volumes,omitempty"`
}

// parseVolume translates one compose "volumes" entry into a VolumeMount.
// The syntax is "<host-or-name>:<container-path>[:ro]": a host field
// containing a "/" is an explicit host path bind-mounted as-is; a bare name
// (no "/") is a named volume, left for the agent to resolve into an
// emptyDir-style path under the pod's own overlay tree. A third field, if
// present, must be exactly "ro".
func parseVolume(v string) (apis.VolumeMount, error) {
	parts := strings.Split(v, ":")
	var host, container, ro string
	switch len(parts) {
	case 2:
		host, container = parts[0], parts[1]
	case 3:
		host, container, ro = parts[0], parts[1], parts[2]
	default:
		return apis.VolumeMount{}, usage("invalid volume mapping %q: want host:container or host:container:ro", v)
	}
	if host == "" || container == "" {
		return apis.VolumeMount{}, usage("invalid volume mapping %q: host and container paths are required", v)
	}
	if ro != "" && ro != "ro" {
		return apis.VolumeMount{}, usage("invalid volume mapping %q: third field must be \"ro\"", v)
	}
	mount := apis.VolumeMount{ContainerPath: container, ReadOnly: ro == "ro"}
	if strings.Contains(host, "/") {
		mount.HostPath = host
		mount.Name = filepath.Base(host)
	} else {
		mount.Name = host
	}
	return mount, nil
}

type composeSpec struct {
	Name     string                     `yaml:"name,omitempty"`
	Services map[string]composeService `yaml:"services"`
}

var composeProjectName string

var composeCmd = &cobra.Command{
	Use:   "compose",
	Short: "Run a multi-container application from a compose file as one pod",
}

func init() {
	composeCmd.PersistentFlags().StringVar(&composeProjectName, "name", "", "project name (default: the compose file's own name, or its directory's)")
	composeCmd.AddCommand(composeUpCmd, composeDownCmd, composePsCmd)
}

func loadComposeSpec(path string) (composeSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return composeSpec{}, err
	}
	var spec composeSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return composeSpec{}, usage("invalid compose file %s: %v", path, err)
	}
	if len(spec.Services) == 0 {
		return composeSpec{}, usage("compose file %s declares no services", path)
	}
	return spec, nil
}

func composeProjectFor(path string, spec composeSpec) string {
	if composeProjectName != "" {
		return composeProjectName
	}
	if spec.Name != "" {
		return spec.Name
	}
	return filepath.Base(filepath.Dir(path))
}

func composeToPod(path string) (apis.Pod, error) {
	spec, err := loadComposeSpec(path)
	if err != nil {
		return apis.Pod{}, err
	}

	names := make([]string, 0, len(spec.Services))
	for name := range spec.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	pod := apis.Pod{Name: composeProjectFor(path, spec)}
	for _, name := range names {
		svc := spec.Services[name]
		argv := svc.Entrypoint

		mounts := make([]apis.VolumeMount, 0, len(svc.Volumes))
		for _, v := range svc.Volumes {
			m, err := parseVolume(v)
			if err != nil {
				return apis.Pod{}, err
			}
			mounts = append(mounts, m)
		}

		pod.Containers = append(pod.Containers, apis.Container{
			Name:         name,
			Image:        svc.Image,
			Command:      argv,
			Args:         svc.Command,
			Env:          svc.Environment,
			VolumeMounts: mounts,
		})
	}
	return pod, nil
}

var composeUpCmd = &cobra.Command{
	Use:   "up <compose-file.yaml>",
	Short: "Create and start every service in a compose file as one pod",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pod, err := composeToPod(args[0])
		if err != nil {
			return err
		}
		return createPod(cmd, pod)
	},
}

var composeDownCmd = &cobra.Command{
	Use:   "down <compose-file.yaml>",
	Short: "Delete the pod a compose file previously started",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := loadComposeSpec(args[0])
		if err != nil {
			return err
		}
		name := composeProjectFor(args[0], spec)
		if useCluster {
			_, err := resultError(callMaster(cmd.Context(), cluster.DeletePod, cluster.DeletePodMsg{Name: name}))
			return err
		}
		return localAgent().DeletePod(cmd.Context(), name)
	},
}

var composePsCmd = &cobra.Command{
	Use:   "ps <compose-file.yaml>",
	Short: "Show the state of a compose file's pod",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := loadComposeSpec(args[0])
		if err != nil {
			return err
		}
		name := composeProjectFor(args[0], spec)
		rec, running, err := localAgent().State(name)
		if err != nil {
			return err
		}
		fmt.Printf("%s\trunning=%t\tcontainers=%v\n", name, running, rec.Containers)
		return nil
	},
}
