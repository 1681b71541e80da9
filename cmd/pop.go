package cmd

import (
	"os"

	"github.com/creativeprojects/postoffice/queue"
	"github.com/spf13/cobra"
)

var popCmd = &cobra.Command{
	Use:   "pop <queue>",
	Short: "Remove the oldest message from a queue and write it to the standard output",
	Args:  cobra.ExactArgs(1),
	RunE:  runPop,
}

func init() {
	rootCmd.AddCommand(popCmd)
}

func runPop(cmd *cobra.Command, args []string) error {
	env, err := openEnvironment()
	if err != nil {
		return err
	}
	defer env.Close()

	// the message is only removed when it was fully written
	return env.router.WithQueue(args[0], func(q *queue.Queue) error {
		msg, err := q.PopNext()
		if err != nil {
			return err
		}
		_, err = msg.WriteTo(os.Stdout)
		return err
	})
}
