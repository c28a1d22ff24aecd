package main

import (
	"repairbot/cmd/repairbot/tui"

	"github.com/spf13/cobra"
)

var (
	chatOwner  string
	chatThread string
)

var chatCmd = &cobra.Command{
	Use:         "chat",
	Short:       "Interactive terminal chat",
	Annotations: map[string]string{annotationQuiet: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := resolveOwner(chatOwner)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		return tui.Run(cmd.Context(), a.chat, tui.Options{OwnerID: owner, ThreadID: chatThread})
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatOwner, "owner", "", "Owner id (default: server.default_owner)")
	chatCmd.Flags().StringVar(&chatThread, "thread", "", "Resume a thread (default: a new one)")
}
