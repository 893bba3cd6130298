package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/coachsync/internal/config"
	"github.com/goodtune/coachsync/internal/realtime"
	"github.com/goodtune/coachsync/internal/storage"
	"github.com/goodtune/coachsync/internal/storage/redis"
	"github.com/rs/zerolog"
)

func setupRecords(t *testing.T) (string, *redis.Store) {
	t.Helper()

	mr := miniredis.RunT(t)
	host, port, err := net.SplitHostPort(mr.Addr())
	if err != nil {
		t.Fatalf("SplitHostPort() error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := fmt.Sprintf(`
storage:
  redis:
    host: %s
    port: %s
realtime:
  enabled: true
  channel_prefix: coachsync:events
`, host, port)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	store, err := redis.Open(cfg.Storage)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return path, store
}

// runRecords executes the root command with flag state from earlier runs
// cleared.
func runRecords(t *testing.T, configFile string, args ...string) error {
	t.Helper()

	recordUser, recordTo, recordName, recordRole = "", "", "", "athlete"
	rootCmd.SetArgs(append([]string{"-c", configFile}, args...))
	return rootCmd.Execute()
}

func TestRecordCommands(t *testing.T) {
	path, store := setupRecords(t)
	ctx := context.Background()

	channel := realtime.NewRedisChannel(store.Client(), "coachsync:events", zerolog.Nop())
	if err := channel.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = channel.Close() })

	inserted := make(chan realtime.Event, 4)
	dispose, err := channel.Subscribe(realtime.EventMessageInserted, func(ev realtime.Event) { inserted <- ev })
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer dispose()

	if err := runRecords(t, path, "profile", "set", "--user", "coach-1", "--name", "Sam Rivera", "--role", "coach"); err != nil {
		t.Fatalf("profile set error = %v", err)
	}
	p, err := store.Profiles().Get(ctx, "coach-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if p.DisplayName != "Sam Rivera" || p.Role != storage.RoleCoach {
		t.Errorf("profile = %+v, want Sam Rivera/COACH", p)
	}

	if err := runRecords(t, path, "message", "send", "--user", "coach-1", "--to", "athlete-1", "Nice", "work"); err != nil {
		t.Fatalf("message send error = %v", err)
	}
	previews, err := store.Messages().ListPreviews(ctx, "athlete-1")
	if err != nil {
		t.Fatalf("ListPreviews() error = %v", err)
	}
	if len(previews) != 1 || previews[0].LastMessage != "Nice work" || previews[0].UnreadCount != 1 {
		t.Fatalf("previews = %+v, want one unread \"Nice work\"", previews)
	}
	select {
	case <-inserted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message_inserted event")
	}

	if err := runRecords(t, path, "message", "read", "--user", "athlete-1", "--to", "coach-1"); err != nil {
		t.Fatalf("message read error = %v", err)
	}
	previews, err = store.Messages().ListPreviews(ctx, "athlete-1")
	if err != nil {
		t.Fatalf("ListPreviews() error = %v", err)
	}
	if len(previews) != 1 || previews[0].UnreadCount != 0 {
		t.Errorf("previews after read = %+v, want unread 0", previews)
	}

	if err := runRecords(t, path, "workout", "start", "--user", "athlete-1", "--name", "Intervals"); err != nil {
		t.Fatalf("workout start error = %v", err)
	}
	w, err := store.Workouts().GetActive(ctx, "athlete-1")
	if err != nil {
		t.Fatalf("GetActive() error = %v", err)
	}
	if w.Name != "Intervals" {
		t.Errorf("active workout = %+v, want Intervals", w)
	}

	if err := runRecords(t, path, "workout", "finish", "--user", "athlete-1"); err != nil {
		t.Fatalf("workout finish error = %v", err)
	}
	if _, err := store.Workouts().GetActive(ctx, "athlete-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetActive() after finish error = %v, want ErrNotFound", err)
	}
}

func TestRecordCommands_Errors(t *testing.T) {
	path, _ := setupRecords(t)

	tests := []struct {
		name string
		args []string
	}{
		{"no user", []string{"workout", "start", "--name", "Intervals"}},
		{"bad role", []string{"profile", "set", "--user", "u1", "--name", "X", "--role", "owner"}},
		{"nothing to finish", []string{"workout", "finish", "--user", "u1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := runRecords(t, path, tt.args...); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
