// Command pqvpnctl is the operator CLI: generate a node identity, run a
// local two-party handshake for smoke-testing a binding, or benchmark key
// exchange throughput.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "pqvpnctl",
		Short:   "Operator CLI for the post-quantum handshake core",
		Version: version,
	}

	cmd.AddCommand(
		newKeygenCommand(),
		newDemoHandshakeCommand(),
		newKexBenchCommand(),
		newServeCommand(),
	)

	return cmd
}
