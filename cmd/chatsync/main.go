package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bookline/chatsync/cmd/chatsync/internal"
	"github.com/bookline/chatsync/cmd/chatsync/internal/chat"
	"github.com/bookline/chatsync/cmd/chatsync/internal/login"
	"github.com/bookline/chatsync/cmd/chatsync/internal/status"
	"github.com/bookline/chatsync/cmd/chatsync/internal/version"
)

func NewChatsyncCommand() *cobra.Command {
	short := fmt.Sprintf("%s chatsync - Direct-message sync client v%s\n\n", internal.Logo, internal.GetVersion())

	cmd := &cobra.Command{
		Use:     "chatsync",
		Short:   short,
		Example: "chatsync chat --user alice",
	}

	cmd.AddCommand(
		chat.NewChatCommand(),
		login.NewLoginCommand(),
		status.NewStatusCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewChatsyncCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
