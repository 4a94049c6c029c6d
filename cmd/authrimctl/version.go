package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags; it stays "dev" otherwise.
var Version = "dev"

func commandVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("authrimctl version: %s\nGo version: %s\nGo OS/ARCH: %s/%s\n",
				Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
