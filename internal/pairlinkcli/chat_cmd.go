// chat_cmd.go — pairlinkctl chat subcommands (send, tail, read, unread, channels).
package pairlinkcli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pairlink/pairlink/chatservice"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <counterpart> <message...>",
	Short: "Send a message to a counterpart.",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runSend,
}

var tailCmd = &cobra.Command{
	Use:   "tail [counterpart]",
	Short: "Print the recent conversation window, then follow it live.",
	Long: `Print the recent conversation window with a counterpart and keep
following it over the server's event stream until interrupted. The
counterpart argument falls back to default_counterpart from config.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTail,
}

var readCmd = &cobra.Command{
	Use:   "read <counterpart>",
	Short: "Acknowledge every unread message from the counterpart.",
	Args:  cobra.ExactArgs(1),
	RunE:  runRead,
}

var unreadCmd = &cobra.Command{
	Use:   "unread <counterpart>",
	Short: "Show the number of unread messages from the counterpart.",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnread,
}

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List your conversations ordered by latest activity.",
	Args:  cobra.NoArgs,
	RunE:  runChannels,
}

var tailLimit int

func init() {
	tailCmd.Flags().IntVar(&tailLimit, "limit", defaultLimit, "Number of recent messages to print before following")
}

// resolveCounterpart returns the positional counterpart argument or the
// configured default.
func resolveCounterpart(args []string, cfg localConfig) (string, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0]), nil
	}
	if cfg.DefaultCounterpart != "" {
		return cfg.DefaultCounterpart, nil
	}
	return "", fmt.Errorf("no counterpart given and default_counterpart is not set in config")
}

func runSend(cmd *cobra.Command, args []string) error {
	api, _, err := client()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(true)
	defer cancel()

	msg, err := api.send(ctx, args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	fmt.Printf("sent %s at %s\n", msg.ID, msg.SentAt.Local().Format("15:04:05"))
	return nil
}

func runTail(cmd *cobra.Command, args []string) error {
	api, cfg, err := client()
	if err != nil {
		return err
	}
	counterpart, err := resolveCounterpart(args, cfg)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(false)
	defer cancel()

	msgs, err := api.listMessages(ctx, counterpart, tailLimit)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		printMessage(m)
	}

	// Events are invalidation signals; re-fetch only the appended message.
	return api.stream(ctx, "/messages/"+counterpart+"/stream", func(data []byte) {
		var event chatservice.ChannelEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return
		}
		if event.Message != nil {
			printMessage(*event.Message)
		}
	})
}

func runRead(cmd *cobra.Command, args []string) error {
	api, _, err := client()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(true)
	defer cancel()

	flipped, err := api.markRead(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("acknowledged %d message(s)\n", flipped)
	return nil
}

func runUnread(cmd *cobra.Command, args []string) error {
	api, _, err := client()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(true)
	defer cancel()

	count, err := api.unread(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Println(count)
	return nil
}

func runChannels(cmd *cobra.Command, args []string) error {
	api, _, err := client()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(true)
	defer cancel()

	channels, err := api.channels(ctx)
	if err != nil {
		return err
	}
	if len(channels) == 0 {
		fmt.Println("no conversations yet")
		return nil
	}
	for _, ch := range channels {
		fmt.Println(formatChannel(ch))
	}
	return nil
}
