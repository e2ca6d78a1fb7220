// status_cmd.go — pairlinkctl presence and roster subcommands.
package pairlinkcli

import (
	"fmt"

	"github.com/pairlink/pairlink/rosterservice"
	"github.com/spf13/cobra"
)

var presenceCmd = &cobra.Command{
	Use:   "presence <user>",
	Short: "Show a user's presence (online, or last-seen time when offline).",
	Args:  cobra.ExactArgs(1),
	RunE:  runPresence,
}

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "List the counterparts you can message.",
	Args:  cobra.NoArgs,
	RunE:  runRoster,
}

func runPresence(cmd *cobra.Command, args []string) error {
	api, _, err := client()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(true)
	defer cancel()

	status, err := api.presence(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Println(formatPresence(status))
	return nil
}

func runRoster(cmd *cobra.Command, args []string) error {
	api, _, err := client()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(true)
	defer cancel()

	var counterparts []rosterservice.Counterpart
	if err := api.do(ctx, "GET", "/roster", nil, &counterparts, 200); err != nil {
		return err
	}
	if len(counterparts) == 0 {
		fmt.Println("no connections")
		return nil
	}
	for _, c := range counterparts {
		line := c.ID + "\t" + c.DisplayName
		if c.Role != "" {
			line += " (" + c.Role + ")"
		}
		fmt.Println(line)
	}
	return nil
}
