package main

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/agentoven/legion/internal/minion"
	"github.com/agentoven/legion/pkg/models"

	"github.com/spf13/cobra"
)

// newMinionsCmd creates the "legionctl minions" subcommand.
func newMinionsCmd(connect func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "minions",
		Short: "List minions with their models and opinions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var minions []models.Minion
			if err := connect().get(cmd.Context(), "/api/minions", &minions); err != nil {
				return fmt.Errorf("minions: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tMODEL\tTEMP\tOPINIONS")
			for _, m := range minions {
				fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\n", m.Name, m.ModelID, m.Params.Temperature, formatOpinions(m.OpinionScores))
			}
			return tw.Flush()
		},
	}
}

// newChannelsCmd creates the "legionctl channels" subcommand.
func newChannelsCmd(connect func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "channels",
		Short: "List channels and their members",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var channels []models.Channel
			if err := connect().get(cmd.Context(), "/api/channels", &channels); err != nil {
				return fmt.Errorf("channels: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tTYPE\tAUTO\tMEMBERS")
			for _, c := range channels {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", c.ID, c.Name, c.Type, c.IsAutoModeActive, strings.Join(c.Members, ", "))
			}
			return tw.Flush()
		},
	}
}

// newHistoryCmd creates the "legionctl history" subcommand.
func newHistoryCmd(connect func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "history <channel-id>",
		Short: "Print a channel's messages, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var msgs []models.ChatMessage
			if err := connect().get(cmd.Context(), "/api/messages/"+args[0], &msgs); err != nil {
				return fmt.Errorf("history: %w", err)
			}
			if len(msgs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), minion.EmptyHistory)
				return nil
			}
			printMessages(cmd.OutOrStdout(), msgs)
			return nil
		},
	}
}

// newSayCmd creates the "legionctl say" subcommand.
func newSayCmd(connect func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "say <channel-id> <message...>",
		Short: "Send a commander message and print the turn it triggers",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := models.UserMessagePayload{ChannelID: args[0], UserInput: strings.Join(args[1:], " ")}
			var out []models.ChatMessage
			if err := connect().post(cmd.Context(), "/api/messages", payload, &out); err != nil {
				return fmt.Errorf("say: %w", err)
			}
			printTurn(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

// newContinueCmd creates the "legionctl continue" subcommand.
func newContinueCmd(connect func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "continue <channel-id>",
		Short: "Run a turn on the channel's latest message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out []models.ChatMessage
			if err := connect().post(cmd.Context(), "/api/channels/"+args[0]+"/continue", nil, &out); err != nil {
				return fmt.Errorf("continue: %w", err)
			}
			printTurn(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func printTurn(w io.Writer, out []models.ChatMessage) {
	if len(out) == 0 {
		fmt.Fprintln(w, "(no minion took part)")
		return
	}
	printMessages(w, out)
}

func printMessages(w io.Writer, msgs []models.ChatMessage) {
	for i := range msgs {
		line := minion.HistoryLine(&msgs[i])
		if msgs[i].IsError {
			line = "! " + line
		}
		fmt.Fprintln(w, line)
	}
}

func formatOpinions(scores map[string]int) string {
	if len(scores) == 0 {
		return "-"
	}
	names := make([]string, 0, len(scores))
	for name := range scores {
		names = append(names, name)
	}
	slices.Sort(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%d", name, scores[name])
	}
	return strings.Join(parts, " ")
}
