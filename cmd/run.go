package cmd

import (
	"fmt"

	"github.com/creativeprojects/postoffice/term"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reconcile the queues with the configuration, then import the messages waiting in the inbox",
	Args:  cobra.NoArgs,
	RunE:  runImport,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	env, err := openEnvironment()
	if err != nil {
		return err
	}
	defer env.Close()

	log := term.Logger{}
	err = env.router.ReconcileQueues(log)
	if err != nil {
		return fmt.Errorf("cannot reconcile queues: %w", err)
	}

	inbox, err := NewInbox(env.config, debugLogger())
	if err != nil {
		return fmt.Errorf("cannot open inbox: %w", err)
	}
	defer inbox.Close()

	_, err = env.router.ImportMessages(inbox, log)
	if err != nil {
		return err
	}

	if env.config.Postoffice.MetricsFile == "" {
		return nil
	}
	err = env.router.UpdateMetrics()
	if err != nil {
		return err
	}
	err = env.metrics.WriteFile(env.config.Postoffice.MetricsFile)
	if err != nil {
		return fmt.Errorf("cannot write metrics file: %w", err)
	}
	term.Debugf("metrics saved to %q", env.config.Postoffice.MetricsFile)
	return nil
}
