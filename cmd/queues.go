package cmd

import (
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var queuesCmd = &cobra.Command{
	Use:   "queues",
	Short: "Display the list of queues",
	Args:  cobra.NoArgs,
	RunE:  runQueues,
}

func init() {
	rootCmd.AddCommand(queuesCmd)
}

func runQueues(cmd *cobra.Command, args []string) error {
	env, err := openEnvironment()
	if err != nil {
		return err
	}
	defer env.Close()

	statuses, err := env.router.Status()
	if err != nil {
		return err
	}
	table := pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
		{"Queue", "Messages", "Quarantine", "Configured"},
	})
	for _, status := range statuses {
		configured := "yes"
		if !status.Configured {
			configured = "no"
		}
		table.Data = append(table.Data, []string{
			status.Name,
			strconv.Itoa(status.Messages),
			strconv.Itoa(status.Quarantined),
			configured,
		})
	}
	return table.Render()
}
