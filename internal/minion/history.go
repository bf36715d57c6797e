package minion

import (
	"strings"

	"github.com/agentoven/legion/pkg/models"
)

// HistoryWindow is how many trailing messages a minion sees.
const HistoryWindow = 15

// EmptyHistory is rendered in place of a channel with no messages.
const EmptyHistory = "This is the beginning of the conversation."

// HistoryLine renders one message the way minions read it:
// "[COMMANDER name]: ..." for users, "[MINION name]: ..." for AI and
// "[name]: ..." for system logs.
func HistoryLine(msg *models.ChatMessage) string {
	var prefix string
	switch msg.SenderType {
	case models.SenderUser:
		prefix = "[COMMANDER " + msg.SenderName + "]"
	case models.SenderAI:
		prefix = "[MINION " + msg.SenderName + "]"
	default:
		prefix = "[" + msg.SenderName + "]"
	}
	return prefix + ": " + msg.Content
}

// FormatHistory renders the last HistoryWindow messages, oldest first.
// msgs must already be in timestamp order.
func FormatHistory(msgs []models.ChatMessage) string {
	if len(msgs) > HistoryWindow {
		msgs = msgs[len(msgs)-HistoryWindow:]
	}
	if len(msgs) == 0 {
		return EmptyHistory
	}
	lines := make([]string, len(msgs))
	for i := range msgs {
		lines[i] = HistoryLine(&msgs[i])
	}
	return strings.Join(lines, "\n")
}
