package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func commandRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "authrimctl",
		Short: "Operate an authrim deployment: keys, shards, tombstones, settings",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
			os.Exit(2)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "authrimctl.yaml", "Path to authrimctl config file")

	root.AddCommand(commandServe())
	root.AddCommand(commandKeys())
	root.AddCommand(commandShard())
	root.AddCommand(commandTombstones())
	root.AddCommand(commandSettings())
	root.AddCommand(commandVersion())
	return root
}

func main() {
	if err := commandRoot().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
}
