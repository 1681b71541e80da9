package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/creativeprojects/postoffice/lib"
	"github.com/creativeprojects/postoffice/queue"
	"github.com/creativeprojects/postoffice/router"
	"github.com/creativeprojects/postoffice/term"
	"github.com/emersion/go-mbox"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

const dateFormat = "2006-01-02 15:04:05 MST"

var quarantineCmd = &cobra.Command{
	Use:   "quarantine",
	Short: "Manage the messages in the quarantine of a queue",
}

var quarantineListCmd = &cobra.Command{
	Use:   "list <queue>",
	Short: "Display the messages in quarantine with their error",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuarantineList,
}

var quarantineRequeueCmd = &cobra.Command{
	Use:   "requeue <queue>",
	Short: "Move all the messages in quarantine back to the queue",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuarantineRequeue,
}

var quarantineRemoveCmd = &cobra.Command{
	Use:   "remove <queue> <id>",
	Short: "Remove a message from the quarantine",
	Args:  cobra.ExactArgs(2),
	RunE:  runQuarantineRemove,
}

var quarantineExportCmd = &cobra.Command{
	Use:   "export <queue> <file>",
	Short: "Export the messages in quarantine to a mbox file (use - for the standard output)",
	Args:  cobra.ExactArgs(2),
	RunE:  runQuarantineExport,
}

var quarantineFlags struct {
	notify bool
	reason string
}

func init() {
	flags := quarantineRemoveCmd.Flags()
	flags.BoolVar(&quarantineFlags.notify, "notify", false, "send a bounce notice to the sender of the message, from the bounce_from_addr of the queue")
	flags.StringVar(&quarantineFlags.reason, "reason", "", "reason given in the bounce notice (default \""+queue.DefaultBounceReason+"\")")

	quarantineCmd.AddCommand(quarantineListCmd, quarantineRequeueCmd, quarantineRemoveCmd, quarantineExportCmd)
	rootCmd.AddCommand(quarantineCmd)
}

func runQuarantineList(cmd *cobra.Command, args []string) error {
	env, err := openEnvironment()
	if err != nil {
		return err
	}
	defer env.Close()

	table := pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
		{"ID", "Date", "From", "Subject", "Error"},
	})
	err = env.router.ViewQueue(args[0], func(q *queue.Queue) error {
		messages, err := q.QuarantinedMessages()
		if err != nil {
			return err
		}
		for _, quarantined := range messages {
			table.Data = append(table.Data, []string{
				strconv.FormatUint(quarantined.ID, 10),
				quarantined.Error.Date.Local().Format(dateFormat),
				quarantined.Message.From(),
				quarantined.Message.Subject(),
				quarantined.Error.Type + ": " + quarantined.Error.Error,
			})
		}
		return nil
	})
	if err != nil {
		return err
	}
	return table.Render()
}

func runQuarantineRequeue(cmd *cobra.Command, args []string) error {
	env, err := openEnvironment()
	if err != nil {
		return err
	}
	defer env.Close()

	return env.router.WithQueue(args[0], func(q *queue.Queue) error {
		count, err := q.RequeueQuarantinedMessages()
		if err != nil {
			return err
		}
		term.Infof("%d message(s) moved back to queue %s", count, args[0])
		return nil
	})
}

func runQuarantineRemove(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid message id %q", lib.ErrInvalidArgument, args[1])
	}
	env, err := openEnvironment()
	if err != nil {
		return err
	}
	defer env.Close()

	name := args[0]
	var from string
	if quarantineFlags.notify {
		configured := env.config.Queue(name)
		if configured == nil || configured.BounceFrom == "" {
			return fmt.Errorf("queue %s has no bounce_from_addr to send the notice from", name)
		}
		from = configured.BounceFrom
	}

	var send queue.Sender
	if quarantineFlags.notify {
		send = env.sender()
	}
	return removeQuarantined(env.router, name, id, send, from, quarantineFlags.reason)
}

// removeQuarantined deletes a message from the quarantine, and bounces it to its
// sender when send is not nil. A failed notice keeps the message in quarantine.
func removeQuarantined(r *router.Router, name string, id uint64, send queue.Sender, from, reason string) error {
	bounceTo := ""
	err := r.WithQueue(name, func(q *queue.Queue) error {
		quarantined, err := q.GetQuarantined(id)
		if err != nil {
			return err
		}
		err = q.RemoveFromQuarantine(quarantined.Message)
		if err != nil {
			return err
		}
		if send == nil {
			return nil
		}
		err = q.Bounce(quarantined.Message, send, from, reason, nil)
		if err != nil {
			return err
		}
		bounceTo = quarantined.Message.From()
		return nil
	})
	if err != nil {
		return err
	}
	term.Infof("message %d removed from the quarantine of queue %s", id, name)
	if send != nil {
		term.Infof("bounce notice sent to %s", bounceTo)
	}
	return nil
}

func runQuarantineExport(cmd *cobra.Command, args []string) error {
	env, err := openEnvironment()
	if err != nil {
		return err
	}
	defer env.Close()

	var output io.Writer = os.Stdout
	if args[1] != "-" {
		file, err := os.Create(args[1])
		if err != nil {
			return err
		}
		defer file.Close()
		output = file
	}

	count := 0
	err = env.router.ViewQueue(args[0], func(q *queue.Queue) error {
		messages, err := q.QuarantinedMessages()
		if err != nil {
			return err
		}
		pbar := newProgresser("exporting", len(messages))
		defer pbar.Stop()
		count, err = exportMbox(output, messages, pbar)
		return err
	})
	if err != nil {
		return err
	}
	term.Infof("%d message(s) exported", count)
	return nil
}

type incrementer interface {
	Increment()
}

// exportMbox writes the messages in mboxrd format
func exportMbox(output io.Writer, messages []queue.QuarantinedMessage, pbar incrementer) (int, error) {
	writer := mbox.NewWriter(output)
	count := 0
	for _, quarantined := range messages {
		from := quarantined.Message.From()
		if from == "" {
			from = "MAILER-DAEMON"
		}
		date := quarantined.Message.DateOrNow(quarantined.Error.Date)
		messageWriter, err := writer.CreateMessage(from, date)
		if err != nil {
			return count, err
		}
		_, err = quarantined.Message.WriteTo(messageWriter)
		if err != nil {
			return count, fmt.Errorf("cannot export message %d: %w", quarantined.ID, err)
		}
		count++
		if pbar != nil {
			pbar.Increment()
		}
	}
	return count, writer.Close()
}
