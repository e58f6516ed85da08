// relay-server exposes a relay over WebSockets, with an echo client
// standing in for the upstream connections.
package main

import (
    "fmt"
    "os"

    "github.com/spf13/cobra"
)

// newRootCmd build the command tree.
func newRootCmd() *cobra.Command {
    var cfgFile string

    root := &cobra.Command {
        Use: "relay-server",
        Short: "Relay WebSocket clients to their sessions",
        SilenceUsage: true,
        SilenceErrors: true,
    }
    root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

    root.AddCommand(newStartCmd(&cfgFile))
    root.AddCommand(newUserCmd(&cfgFile))
    root.CompletionOptions.DisableDefaultCmd = true

    return root
}

func main() {
    if err := newRootCmd().Execute(); err != nil {
        fmt.Fprintf(os.Stderr, "Error: %v\n", err)
        os.Exit(1)
    }
}
