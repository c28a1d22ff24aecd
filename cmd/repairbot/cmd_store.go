package main

import (
	"context"
	"fmt"
	"io"

	"repairbot/internal/chat"
	"repairbot/internal/store"
	"repairbot/internal/turn"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	historyOwner   string
	historyThread  string
	historyLimit   int
	historyThreads bool
	usageOwner     string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show stored conversation messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := resolveOwner(historyOwner)
		if err != nil {
			return err
		}
		st, err := store.Open(cfg.Store.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()

		if historyThreads {
			return printThreads(cmd.Context(), cmd.OutOrStdout(), st, owner)
		}
		thread := historyThread
		if thread == "" {
			thread = chat.DefaultThreadID(owner)
		}
		return printHistory(cmd.Context(), cmd.OutOrStdout(), st, owner, thread, historyLimit)
	},
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show accumulated token usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := resolveOwner(usageOwner)
		if err != nil {
			return err
		}
		st, err := store.Open(cfg.Store.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()
		return printUsage(cmd.Context(), cmd.OutOrStdout(), st, owner)
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyOwner, "owner", "", "Owner id (default: server.default_owner)")
	historyCmd.Flags().StringVar(&historyThread, "thread", "", "Thread id (default: the owner's default thread)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", chat.DefaultHistoryLimit, "Newest messages to show")
	historyCmd.Flags().BoolVar(&historyThreads, "threads", false, "List the owner's threads instead")

	usageCmd.Flags().StringVar(&usageOwner, "owner", "", "Owner id (default: server.default_owner)")
}

var (
	userLabel      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#2196F3"))
	assistantLabel = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A"))
	mutedText      = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

func printHistory(ctx context.Context, w io.Writer, st *store.Store, owner, thread string, limit int) error {
	msgs, err := st.History(ctx, owner, thread, limit)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Fprintf(w, "no messages in thread %s\n", thread)
		return nil
	}
	for _, m := range msgs {
		label := userLabel.Render("you")
		if m.Role != turn.RoleUser {
			label = assistantLabel.Render(string(m.Role))
		}
		fmt.Fprintf(w, "%s %s\n%s\n\n", label, mutedText.Render(m.CreatedAt.Local().Format("2006-01-02 15:04")), m.Content)
	}
	return nil
}

func printThreads(ctx context.Context, w io.Writer, st *store.Store, owner string) error {
	threads, err := st.Threads(ctx, owner)
	if err != nil {
		return err
	}
	if len(threads) == 0 {
		fmt.Fprintf(w, "no threads for %s\n", owner)
		return nil
	}
	for _, t := range threads {
		n, err := st.CountMessages(ctx, owner, t)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%d messages\n", t, n)
	}
	return nil
}

func printUsage(ctx context.Context, w io.Writer, st *store.Store, owner string) error {
	u, err := st.Usage(ctx, owner)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "owner:    %s\n", owner)
	fmt.Fprintf(w, "tokens:   %d\n", u.TotalTokens)
	fmt.Fprintf(w, "requests: %d\n", u.RequestCount)
	if !u.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "updated:  %s\n", u.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}
