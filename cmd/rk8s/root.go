package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rk8s-dev/rk8s/pkg/log"
)

var (
	useCluster bool
	masterAddr string
	rootDir    string
	overlayRoot string
	ifname      string
	manifestDir string
	bridgeName  string
	devLog      bool

	rootCmd = &cobra.Command{
		Use:   "rk8s",
		Short: "rk8s runs and schedules pods across a small Kubernetes-compatible cluster",
		SilenceUsage: true,
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVar(&useCluster, "cluster", os.Getenv("RKL_POD_CLUSTER") == "true",
		"route pod mutations through the cluster master instead of the local host (env RKL_POD_CLUSTER=true)")
	flags.StringVar(&masterAddr, "master", envOr("RKL_MASTER_ADDR", "127.0.0.1:7777"), "master QUIC address")
	flags.StringVar(&rootDir, "root", envOr("RKL_ROOT", ""), "pod record root directory (default /run/youki)")
	flags.StringVar(&overlayRoot, "overlay-root", "", "base directory for pod overlay trees (default <root>/overlays)")
	flags.StringVar(&ifname, "ifname", "eth0", "container-side network interface name")
	flags.StringVar(&manifestDir, "manifest-dir", "", "static pod manifest directory (default /etc/rk8s/manifests)")
	flags.StringVar(&bridgeName, "bridge", "rk8s0", "host bridge name for the CNI driver")
	flags.BoolVar(&devLog, "dev", false, "use human-readable development logging instead of JSON")

	rootCmd.AddCommand(podCmd, containerCmd, composeCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Execute runs the root command, translating any error into the exit codes
// §6 specifies: 0 success, 1 generic failure, 2 usage error.
func Execute() {
	// The logger is built after flag parsing so that --dev takes effect.
	var syncLog func() error
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, _ []string) {
		logger := log.New(devLog)
		syncLog = logger.Sync
		cmd.SetContext(log.Into(cmd.Context(), logger))
	}
	rootCmd.SetContext(context.Background())

	err := rootCmd.Execute()
	if syncLog != nil {
		_ = syncLog()
	}
	if err != nil {
		if _, ok := err.(usageError); ok {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// usageError marks an error found by a command's own input checks (an
// unreadable manifest, a malformed volume mapping) as a usage problem
// rather than an operational failure, so Execute picks exit code 2 instead
// of 1. Errors from cobra's argument-count validators and flag parsing are
// not usageErrors and exit with 1.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }

func usage(format string, args ...any) error {
	return usageError{err: fmt.Errorf(format, args...)}
}
