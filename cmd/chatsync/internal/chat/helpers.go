package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/bookline/chatsync/cmd/chatsync/internal"
	"github.com/bookline/chatsync/pkg/backend"
	"github.com/bookline/chatsync/pkg/events"
	"github.com/bookline/chatsync/pkg/logger"
	"github.com/bookline/chatsync/pkg/session"
	"github.com/bookline/chatsync/pkg/store"
	"github.com/bookline/chatsync/pkg/transport"
)

func chatCmd(user, to string, debug bool) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("🔍 Debug mode enabled")
	}

	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	if user == "" {
		user = cfg.UserID
	}
	if user == "" {
		return errors.New("no identity: pass --user or run 'chatsync login'")
	}

	st := store.NewWithWindow(cfg.Sync.ReconcileWindow())
	api := backend.NewClient(cfg.APIBase, cfg.Token)
	conn := transport.NewManager(cfg.WSBase,
		transport.WithBaseDelay(cfg.Transport.BaseDelay()),
		transport.WithMaxAttempts(cfg.Transport.MaxAttempts),
	)

	s := session.New(session.Config{
		SelfID:            user,
		HistoryInterval:   cfg.Sync.HistoryInterval(),
		DirectoryInterval: cfg.Sync.DirectoryInterval(),
	}, st, api, conn)
	if err := s.Start(); err != nil {
		return fmt.Errorf("error starting session: %w", err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go printEvents(ctx, s, user)

	fmt.Printf("%s Connected as %s (type /help for commands, Ctrl+C to exit)\n\n", internal.Logo, user)
	if to != "" {
		s.SetActiveConversation(to)
		fmt.Printf("Talking to %s\n", to)
	}

	console(s, user, to)
	return nil
}

// printEvents renders engine notifications while the console is waiting on
// input.
func printEvents(ctx context.Context, s *session.Session, selfID string) {
	for {
		ev, ok := s.Events().Consume(ctx)
		if !ok {
			return
		}
		switch ev.Kind {
		case events.KindMessageMerged:
			if ev.Message.SenderID != selfID {
				fmt.Printf("\n%s %s: %s\n", internal.Logo, ev.Message.SenderID, ev.Message.Content)
			}
		case events.KindConnectionChanged:
			if ev.Connected {
				fmt.Println("\n✓ Live connection established")
			} else {
				fmt.Println("\n⚠ Live connection lost, falling back to polling")
			}
		case events.KindSyncError:
			if ev.Err != nil {
				fmt.Printf("\n⚠ Sync error: %v\n", ev.Err)
			}
		}
	}
}

func console(s *session.Session, selfID, active string) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%s %s> ", internal.Logo, selfID),
		HistoryFile:     filepath.Join(os.TempDir(), ".chatsync_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if quit := runCommand(s, input, &active); quit {
				return
			}
			continue
		}

		if active == "" {
			fmt.Println("No conversation open. Use /to <user> first.")
			continue
		}
		if err := s.Send(context.Background(), input, active); err != nil {
			fmt.Printf("Send failed: %v\n", err)
		}
	}
}

func runCommand(s *session.Session, input string, active *string) bool {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/quit", "/exit":
		fmt.Println("Goodbye!")
		return true

	case "/help":
		fmt.Println("Commands:")
		fmt.Println("  /chats          list recent conversations")
		fmt.Println("  /to <user>      open a conversation")
		fmt.Println("  /status         show connection and sync state")
		fmt.Println("  /quit           exit")

	case "/chats":
		if err := s.RefreshDirectory(context.Background()); err != nil {
			fmt.Printf("Refresh failed: %v\n", err)
		}
		recent := s.Recent()
		if len(recent) == 0 {
			fmt.Println("No recent conversations.")
			break
		}
		for _, c := range recent {
			fmt.Printf("  %-20s %s\n", c.OtherID, c.Preview)
		}

	case "/to":
		if len(fields) < 2 {
			fmt.Println("Usage: /to <user>")
			break
		}
		*active = fields[1]
		s.SetActiveConversation(*active)
		fmt.Printf("Talking to %s\n", *active)
		for _, m := range s.Messages(*active) {
			fmt.Printf("  [%s] %s: %s\n", m.Timestamp.Local().Format("15:04"), m.SenderID, m.Content)
		}

	case "/status":
		stats := s.Stats()
		fmt.Printf("Connection:      %s\n", s.ConnectionState())
		fmt.Printf("Reconnects:      %d\n", stats.ReconnectAttempts)
		fmt.Printf("Messages merged: %d\n", stats.MessagesMerged)
		fmt.Printf("Pushes sent:     %d/%d\n", stats.PushesSent, stats.PushesAttempted)
		fmt.Printf("Sends failed:    %d\n", stats.SendsFailed)

	default:
		fmt.Printf("Unknown command %s (try /help)\n", fields[0])
	}
	return false
}
