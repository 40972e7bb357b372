package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:   "sales-service",
		Short: "Marketplace sales service",
		Long: `Owns the marketplace Sale aggregate and keeps it consistent with the payment
service's transactions by reconciling payment events delivered over Pub/Sub.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "optional config file (yaml/json/toml); environment variables win")

	root.AddCommand(newServeCmd(&configFile))
	root.AddCommand(newReplayCmd(&configFile))
	return root
}
