package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/goodtune/coachsync/internal/clock"
	"github.com/goodtune/coachsync/internal/config"
	"github.com/goodtune/coachsync/internal/notify"
	"github.com/goodtune/coachsync/internal/session"
	"github.com/spf13/cobra"
)

var statusUser string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active workout and unread messages for a user",
	Long:  `Load the same state the service caches for a user and print it once.`,
	Example: `  coachsync status --user athlete-42
  coachsync -c config.yaml status`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusUser, "user", "", "User ID (defaults to account.user_id)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	userID := statusUser
	if userID == "" {
		userID = cfg.Account.UserID
	}
	if userID == "" {
		return fmt.Errorf("no user: pass --user or set account.user_id")
	}

	logger := quietLogger()
	store, err := openStore(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sessions := session.New(store.Workouts(), clock.RealClock{}, logger)
	notifications := notify.New(store.Messages(), notifyConfig(cfg.Notify), logger)

	sessErr := sessions.LoadActive(ctx, userID)
	notifyErr := notifications.SetUser(ctx, userID)

	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	red := color.New(color.FgRed, color.Bold)
	dim := color.New(color.Faint)

	_, _ = cyan.Printf("User: %s\n\n", userID)

	_, _ = cyan.Println("Workout")
	switch s := sessions.Session(); {
	case sessErr != nil:
		_, _ = red.Printf("  unavailable: %v\n", sessErr)
	case s == nil:
		_, _ = dim.Println("  no workout in progress")
	default:
		elapsed, _ := sessions.Elapsed()
		_, _ = green.Printf("  %s\n", s.Name)
		fmt.Printf("  id:      %s\n", s.ID)
		fmt.Printf("  started: %s (%s)\n", s.StartedAt.Local().Format(time.Kitchen), humanize.Time(s.StartedAt))
		fmt.Printf("  elapsed: %s\n", elapsed.Truncate(time.Second))
	}

	fmt.Println()
	if notifyErr != nil {
		_, _ = cyan.Println("Messages")
		_, _ = red.Printf("  unavailable: %v\n", notifyErr)
		return nil
	}

	badge := notifications.Badge()
	_, _ = cyan.Print("Messages ")
	if badge.Total > 0 {
		_, _ = yellow.Printf("[%s unread]\n", badge.Display)
	} else {
		_, _ = dim.Println("[no unread]")
	}

	convs := notifications.Conversations()
	if len(convs) == 0 {
		_, _ = dim.Println("  no conversations")
	}
	for _, c := range convs {
		presence := dim.Sprint("○")
		if c.Online {
			presence = green.Sprint("●")
		}
		unread := ""
		if c.UnreadCount > 0 {
			unread = yellow.Sprintf(" (%s)", humanize.Comma(int64(c.UnreadCount)))
		}
		fmt.Fprintf(os.Stdout, "  %s %s%s  %s\n", presence, c.CounterpartName, unread, dim.Sprint(humanize.Time(c.LastMessageAt)))
		fmt.Fprintf(os.Stdout, "    %s\n", snippet(c.LastMessage, 60))
	}

	return nil
}

// snippet shortens s to at most n runes.
func snippet(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
