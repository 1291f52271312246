package status

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bookline/chatsync/cmd/chatsync/internal"
	"github.com/bookline/chatsync/pkg/backend"
)

func NewStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration and backend reachability",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return statusCmd()
		},
	}
	return cmd
}

func statusCmd() error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	fmt.Printf("%s chatsync status\n\n", internal.Logo)
	fmt.Printf("API base:  %s\n", cfg.APIBase)
	fmt.Printf("WS base:   %s\n", cfg.WSBase)
	if cfg.UserID != "" {
		fmt.Printf("Identity:  %s\n", cfg.UserID)
	} else {
		fmt.Println("Identity:  (not set)")
	}
	if cfg.Token != "" {
		fmt.Println("Token:     present")
	} else {
		fmt.Println("Token:     (not set)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	api := backend.NewClient(cfg.APIBase, cfg.Token)
	if _, err := api.RecentChats(ctx, cfg.UserID); err != nil {
		fmt.Printf("Backend:   unreachable (%v)\n", err)
	} else {
		fmt.Println("Backend:   reachable")
	}

	return nil
}
