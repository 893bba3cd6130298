package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/coachsync/internal/config"
	"github.com/goodtune/coachsync/internal/realtime"
	"github.com/goodtune/coachsync/internal/storage"
	"github.com/goodtune/coachsync/internal/storage/redis"
	"github.com/spf13/cobra"
)

var (
	recordUser string
	recordTo   string
	recordName string
	recordRole string
)

var workoutCmd = &cobra.Command{
	Use:   "workout",
	Short: "Start or finish workouts in the record store",
}

var workoutStartCmd = &cobra.Command{
	Use:     "start",
	Short:   "Start a workout for a user",
	Example: `  coachsync workout start --user athlete-42 --name "Tempo run"`,
	Args:    cobra.NoArgs,
	RunE:    runWorkoutStart,
}

var workoutFinishCmd = &cobra.Command{
	Use:     "finish [WORKOUT_ID]",
	Short:   "Finish a workout, or the user's active one",
	Example: `  coachsync workout finish --user athlete-42`,
	Args:    cobra.MaximumNArgs(1),
	RunE:    runWorkoutFinish,
}

var messageCmd = &cobra.Command{
	Use:   "message",
	Short: "Send messages and mark conversations read",
}

var messageSendCmd = &cobra.Command{
	Use:     "send BODY",
	Short:   "Send a message",
	Example: `  coachsync message send --user coach-7 --to athlete-42 "Great session today"`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runMessageSend,
}

var messageReadCmd = &cobra.Command{
	Use:     "read",
	Short:   "Mark a conversation read for a user",
	Example: `  coachsync message read --user athlete-42 --to coach-7`,
	Args:    cobra.NoArgs,
	RunE:    runMessageRead,
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage user profiles",
}

var profileSetCmd = &cobra.Command{
	Use:     "set",
	Short:   "Create or update a profile",
	Example: `  coachsync profile set --user coach-7 --name "Sam Rivera" --role coach`,
	Args:    cobra.NoArgs,
	RunE:    runProfileSet,
}

func init() {
	for _, c := range []*cobra.Command{workoutStartCmd, workoutFinishCmd, messageSendCmd, messageReadCmd, profileSetCmd} {
		c.Flags().StringVar(&recordUser, "user", "", "Acting user ID (defaults to account.user_id)")
	}
	workoutStartCmd.Flags().StringVar(&recordName, "name", "", "Workout name")
	messageSendCmd.Flags().StringVar(&recordTo, "to", "", "Recipient user ID (required)")
	messageSendCmd.MarkFlagRequired("to")
	messageReadCmd.Flags().StringVar(&recordTo, "to", "", "Counterpart user ID (required)")
	messageReadCmd.MarkFlagRequired("to")
	profileSetCmd.Flags().StringVar(&recordName, "name", "", "Display name (required)")
	profileSetCmd.Flags().StringVar(&recordRole, "role", "athlete", "Role: athlete or coach")
	profileSetCmd.MarkFlagRequired("name")

	workoutCmd.AddCommand(workoutStartCmd, workoutFinishCmd)
	messageCmd.AddCommand(messageSendCmd, messageReadCmd)
	profileCmd.AddCommand(profileSetCmd)
	rootCmd.AddCommand(workoutCmd, messageCmd, profileCmd)
}

// openRecords opens the store with realtime publishing wired in, so running
// services see the change. The returned cleanup closes both.
func openRecords() (*redis.Store, string, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	userID := recordUser
	if userID == "" {
		userID = cfg.Account.UserID
	}
	if userID == "" {
		return nil, "", nil, fmt.Errorf("no user: pass --user or set account.user_id")
	}

	logger := quietLogger()
	store, err := openStore(cfg.Storage, logger)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	var channel *realtime.RedisChannel
	if cfg.Realtime.Enabled {
		channel = realtime.NewRedisChannel(store.Client(), cfg.Realtime.ChannelPrefix, logger)
		store.SetPublisher(channel)
	}

	cleanup := func() {
		if channel != nil {
			_ = channel.Close()
		}
		_ = store.Close()
	}
	return store, userID, cleanup, nil
}

func recordContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

func runWorkoutStart(cmd *cobra.Command, args []string) error {
	store, userID, cleanup, err := openRecords()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := recordContext()
	defer cancel()

	w, err := store.Workouts().Create(ctx, userID, recordName)
	if err != nil {
		return err
	}

	_, _ = color.New(color.FgGreen, color.Bold).Printf("Started %q\n", w.Name)
	fmt.Printf("  id: %s\n", w.ID)
	return nil
}

func runWorkoutFinish(cmd *cobra.Command, args []string) error {
	store, userID, cleanup, err := openRecords()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := recordContext()
	defer cancel()

	var w *storage.Workout
	if len(args) == 1 {
		w, err = store.Workouts().Get(ctx, args[0])
	} else {
		w, err = store.Workouts().GetActive(ctx, userID)
	}
	if err != nil {
		return fmt.Errorf("no workout to finish: %w", err)
	}

	if err := store.Workouts().Finish(ctx, w.ID); err != nil {
		return err
	}

	_, _ = color.New(color.FgGreen, color.Bold).Printf("Finished %q after %s\n", w.Name, time.Since(w.StartedAt).Truncate(time.Second))
	return nil
}

func runMessageSend(cmd *cobra.Command, args []string) error {
	store, userID, cleanup, err := openRecords()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := recordContext()
	defer cancel()

	msg, err := store.Messages().Send(ctx, storage.Message{
		SenderID:    userID,
		RecipientID: recordTo,
		Body:        strings.Join(args, " "),
	})
	if err != nil {
		return err
	}

	_, _ = color.New(color.FgGreen, color.Bold).Printf("Sent to %s\n", recordTo)
	fmt.Printf("  conversation: %s\n", msg.ConversationID)
	return nil
}

func runMessageRead(cmd *cobra.Command, args []string) error {
	store, userID, cleanup, err := openRecords()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := recordContext()
	defer cancel()

	convID := storage.ConversationID(userID, recordTo)
	if err := store.Messages().MarkRead(ctx, convID, userID); err != nil {
		return fmt.Errorf("failed to mark %s read: %w", convID, err)
	}

	_, _ = color.New(color.FgGreen, color.Bold).Printf("Marked conversation with %s read\n", recordTo)
	return nil
}

func runProfileSet(cmd *cobra.Command, args []string) error {
	role, err := storage.ParseRole(recordRole)
	if err != nil {
		return err
	}

	store, userID, cleanup, err := openRecords()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := recordContext()
	defer cancel()

	if err := store.Profiles().Upsert(ctx, storage.Profile{ID: userID, DisplayName: recordName, Role: role}); err != nil {
		return err
	}

	_, _ = color.New(color.FgGreen, color.Bold).Printf("Saved %s (%s)\n", recordName, strings.ToLower(string(role)))
	return nil
}
