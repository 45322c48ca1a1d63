package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ordersctl",
		Short:         "Operational tooling for the Aloe Signs orders service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "configs/default.yaml", "path to the YAML config file")

	rootCmd.AddCommand(hashPasswordCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(signCmd())
	return rootCmd
}
