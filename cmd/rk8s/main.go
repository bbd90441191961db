// Command rk8s is the single binary for every rk8s role: the CLI a user
// runs (`rk8s pod ...`, `rk8s container ...`, `rk8s compose ...`), the
// long-running node daemon (`rk8s pod daemon`), and the two hidden
// re-exec roles a pod's mount engine and launcher spawn themselves as
// (os.Args[1] == agent.MountEngineReexecArg / agent.LauncherReexecArg).
// The re-exec roles are checked before cobra ever parses argv, mirroring
// how runc-style tools special-case their own init re-exec.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rk8s-dev/rk8s/pkg/agent"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case agent.MountEngineReexecArg:
			if err := agent.RunMountEngine(context.Background()); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			return
		case agent.LauncherReexecArg:
			if err := agent.RunLauncher(context.Background()); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			return
		}
	}
	Execute()
}
