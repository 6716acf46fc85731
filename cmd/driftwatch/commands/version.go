package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/halcyon-sec/driftwatch/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s %s (%s/%s)\n", version.AppName, version.Current, runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
