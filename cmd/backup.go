package cmd

import (
	"fmt"

	"github.com/creativeprojects/postoffice/term"
	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup <file>",
	Short: "Save a consistent copy of the queues database",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackup,
}

func init() {
	rootCmd.AddCommand(backupCmd)
}

func runBackup(cmd *cobra.Command, args []string) error {
	env, err := openEnvironment()
	if err != nil {
		return err
	}
	defer env.Close()

	err = env.db.Backup(args[0])
	if err != nil {
		return fmt.Errorf("cannot backup database: %w", err)
	}
	term.Infof("database %s saved to %s", env.db.Filename(), args[0])
	return nil
}
