package cmd

import (
	"os"

	"github.com/creativeprojects/postoffice/term"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "postoffice",
	Short: "Store and forward mail router",
	Long: "\nImports the messages waiting in an inbox into the configured queues," +
		"\nfor downstream applications to consume.",
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initLog)
	flag := rootCmd.PersistentFlags()
	flag.StringVarP(&global.configFile, "config", "c", "", "configuration file (default: search for "+configFilename()+")")
	flag.BoolVarP(&global.quiet, "quiet", "q", false, "only display warnings and errors")
	flag.BoolVarP(&global.verbose, "verbose", "v", false, "display debugging information")
	flag.BoolVar(&global.timestamp, "timestamp", false, "prefix each line with the current time")
}

func initLog() {
	term.SetTimestamp(global.timestamp)
	switch {
	case global.verbose:
		term.SetLevel(term.LevelDebug)
	case global.quiet:
		term.SetLevel(term.LevelWarn)
	}
}

func Execute(version, commit, date, builtBy string) {
	setApp(version, commit, date, builtBy)
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		term.Error(err)
		os.Exit(1)
	}
}
