package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"studysync/internal/client"
	"studysync/internal/config"
	"studysync/internal/connection"
	"studysync/pkg/types"
)

// Demo terminal client: connects to a relay, joins or creates a session, and
// bridges stdin lines to session chat while tailing everything else.
func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	endpoint := flag.String("endpoint", "", "websocket endpoint, overrides config")
	apiURL := flag.String("api", "", "REST collaborator base URL, overrides config")
	userID := flag.String("user", "", "user ID (required)")
	username := flag.String("name", "", "display name, defaults to user ID")
	joinID := flag.String("join", "", "session ID to join; empty creates a new session")
	title := flag.String("title", "study session", "title when creating a session")
	flag.Parse()

	if *userID == "" {
		return fmt.Errorf("-user is required")
	}
	name := *username
	if name == "" {
		name = *userID
	}

	cfg := config.LoadConfigWithPrecedence(os.Getenv("STUDYSYNC_CONFIG_FILE"))
	if *endpoint != "" {
		cfg.Connection.Endpoint = *endpoint
	}
	if *apiURL != "" {
		cfg.REST.BaseURL = *apiURL
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	c, err := client.New(cfg, *userID, name)
	if err != nil {
		return fmt.Errorf("failed to build client: %w", err)
	}
	defer c.Close()

	c.OnStateChange(func(change connection.StateChange) {
		if change.Err != nil {
			fmt.Printf("* connection: %s -> %s (%v)\n", change.Old, change.New, change.Err)
			return
		}
		fmt.Printf("* connection: %s -> %s\n", change.Old, change.New)
	})
	c.Chat().OnMessage(func(m types.ChatMessage) {
		fmt.Printf("[%s] %s: %s\n", m.Timestamp.Format("15:04:05"), m.Username, m.Text)
	})
	c.Chat().OnTyping(func(userID, username string, active bool) {
		if active {
			fmt.Printf("* %s is typing...\n", username)
		}
	})
	c.Cursors().OnCursorsChanged(func(cursors []types.RemoteCursor) {
		fmt.Printf("* %d peer cursor(s) visible\n", len(cursors))
	})
	c.Progress().OnShare(func(share types.ProgressShare) {
		fmt.Printf("* %s: %s (%d%%)\n", share.Username, share.Milestone, share.Percent)
	})
	c.Notifications().OnNotify(func(n types.Notification) {
		fmt.Printf("! [%s] %s\n", n.Priority, n.Title)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	if *joinID != "" {
		if _, err := c.Sessions().Join(ctx, *joinID); err != nil {
			return fmt.Errorf("failed to join session %s: %w", *joinID, err)
		}
		fmt.Printf("* joined session %s\n", *joinID)
	} else {
		created, err := c.Sessions().Create(ctx, types.SessionSpec{
			Type:  "study_group",
			Title: *title,
		})
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		fmt.Printf("* created session %s\n", created.ID)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case sig := <-signals:
			fmt.Printf("* received %v, leaving\n", sig)
			leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.Sessions().Leave(leaveCtx); err != nil {
				log.Printf("Leave failed: %v", err)
			}
			leaveCancel()
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if _, err := c.Chat().Send(text); err != nil {
				log.Printf("Send failed: %v", err)
			}
		}
	}
}
