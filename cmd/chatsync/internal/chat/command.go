package chat

import (
	"github.com/spf13/cobra"
)

func NewChatCommand() *cobra.Command {
	var debug bool
	var user string
	var to string

	cmd := &cobra.Command{
		Use:     "chat",
		Aliases: []string{"c"},
		Short:   "Open the interactive chat console",
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return chatCmd(user, to, debug)
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "Identity to connect as (overrides config)")
	cmd.Flags().StringVarP(&to, "to", "t", "", "Open this conversation immediately")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}
