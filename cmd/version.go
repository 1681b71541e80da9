package cmd

import (
	"runtime"

	"github.com/creativeprojects/postoffice/term"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		term.Infof("postoffice %s compiled with %s on %s/%s", appVersion, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		term.Debugf("commit %s built on %s by %s", appCommit, appDate, appBuiltBy)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
