// output.go holds CLI output helpers.
package pairlinkcli

import (
	"fmt"
	"strings"
	"time"

	"github.com/pairlink/pairlink/chatstore"
	"github.com/pairlink/pairlink/presenceservice"
)

// printMessage prints one message as a single conversation line.
func printMessage(m chatstore.Message) {
	fmt.Println(formatMessage(m))
}

// formatMessage renders "15:04:05 sender: body" with a trailing unread marker.
func formatMessage(m chatstore.Message) string {
	var b strings.Builder
	b.WriteString(m.SentAt.Local().Format("15:04:05"))
	b.WriteString(" ")
	b.WriteString(m.SenderID)
	b.WriteString(": ")
	b.WriteString(m.Body)
	if !m.Read {
		b.WriteString(" *")
	}
	return b.String()
}

// formatChannel renders one conversation summary line.
func formatChannel(ch chatstore.ChannelSummary) string {
	preview := ch.LastBody
	if len(preview) > 60 {
		preview = preview[:57] + "..."
	}
	return fmt.Sprintf("%s  %s  %s: %s", ch.LastSentAt.Local().Format("Jan 02 15:04"), ch.ChannelKey, ch.LastSenderID, preview)
}

// formatPresence renders presence as "online" or "offline" with last-seen.
func formatPresence(status presenceservice.Status) string {
	if status.Online {
		return status.UserID + " is online"
	}
	if status.LastSeen == nil {
		return status.UserID + " is offline"
	}
	return fmt.Sprintf("%s is offline (last seen %s)", status.UserID, formatSince(time.Since(*status.LastSeen)))
}

// formatSince formats an elapsed duration for last-seen output (e.g. "5m ago").
func formatSince(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
