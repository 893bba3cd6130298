// Package notify keeps the signed-in user's conversation previews and the
// unread badge derived from them.
package notify

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/goodtune/coachsync/internal/metrics"
	"github.com/goodtune/coachsync/internal/realtime"
	"github.com/goodtune/coachsync/internal/storage"
	"github.com/goodtune/coachsync/internal/watch"
	"github.com/rs/zerolog"
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("notify: aggregator closed")

// Fetcher is the part of storage.MessageStore the aggregator reads from.
type Fetcher interface {
	ListPreviews(ctx context.Context, userID string) ([]storage.ConversationPreview, error)
}

// Config controls refresh behaviour.
type Config struct {
	// BadgeThreshold is the largest total displayed verbatim. Zero means
	// DefaultBadgeThreshold; a negative value shows every total verbatim.
	BadgeThreshold int
	// Coalesce folds overlapping refreshes into one in-flight fetch plus at
	// most one queued follow-up. When false every Refresh fetches and the
	// last response to arrive wins.
	Coalesce bool
	// FetchTimeout bounds each fetch. Zero leaves the caller's context alone.
	FetchTimeout time.Duration
	// SubscribeKind is the realtime event kind that triggers a refresh.
	SubscribeKind realtime.EventKind
}

// flight is one fetch that any number of Refresh callers may wait on.
type flight struct {
	done chan struct{}
	err  error
}

// Aggregator holds the latest conversation preview set for one user.
type Aggregator struct {
	store  Fetcher
	cfg    Config
	logger zerolog.Logger

	mu            sync.RWMutex
	userID        string
	generation    uint64
	conversations []storage.ConversationPreview
	dispose       realtime.Disposer
	closed        bool

	flightMu sync.Mutex
	current  *flight
	next     *flight

	pending  sync.WaitGroup
	watchers watch.Watchers[Badge]
}

// New creates an aggregator with no user and an empty preview set.
func New(store Fetcher, cfg Config, logger zerolog.Logger) *Aggregator {
	if cfg.BadgeThreshold == 0 {
		cfg.BadgeThreshold = DefaultBadgeThreshold
	}
	if cfg.SubscribeKind == "" {
		cfg.SubscribeKind = realtime.EventMessageInserted
	}
	return &Aggregator{
		store:  store,
		cfg:    cfg,
		logger: logger.With().Str("component", "notify-aggregator").Logger(),
	}
}

// SetUser switches the aggregator to userID and refreshes once. The previous
// user's previews are dropped immediately when the identity changes.
func (a *Aggregator) SetUser(ctx context.Context, userID string) error {
	a.mu.Lock()
	changed := a.userID != userID
	if changed {
		a.userID = userID
		a.generation++
		a.conversations = nil
	}
	a.mu.Unlock()

	if changed {
		a.publish()
		a.logger.Info().Str("user_id", userID).Msg("Notification user changed")
	}
	if userID == "" {
		return nil
	}
	return a.Refresh(ctx)
}

// UserID returns the user whose previews are held.
func (a *Aggregator) UserID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.userID
}

// Reset drops the user and every preview. Fetches still in flight for the
// old user are discarded when they complete.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.userID = ""
	a.generation++
	a.conversations = nil
	a.mu.Unlock()

	a.publish()
	a.logger.Debug().Msg("Notification state reset")
}

// Refresh fetches the full preview set for the current user and replaces the
// cached one. On failure the previous set is kept and the error returned.
func (a *Aggregator) Refresh(ctx context.Context) error {
	if !a.cfg.Coalesce {
		return a.fetch(ctx)
	}

	a.flightMu.Lock()
	if a.current == nil {
		f := &flight{done: make(chan struct{})}
		a.current = f
		a.flightMu.Unlock()
		a.run(ctx, f)
		return f.err
	}
	if a.next == nil {
		a.next = &flight{done: make(chan struct{})}
	}
	f := a.next
	a.flightMu.Unlock()

	metrics.RefreshesCoalesced.Inc()

	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run executes f and then hands any queued follow-up to a new goroutine so
// the caller that started f is not held up by later requests.
func (a *Aggregator) run(ctx context.Context, f *flight) {
	f.err = a.fetch(ctx)
	close(f.done)

	a.flightMu.Lock()
	next := a.next
	a.next = nil
	a.current = next
	a.flightMu.Unlock()

	if next != nil {
		a.pending.Add(1)
		go func() {
			defer a.pending.Done()
			a.run(context.WithoutCancel(ctx), next)
		}()
	}
}

func (a *Aggregator) fetch(ctx context.Context) error {
	a.mu.RLock()
	userID, generation := a.userID, a.generation
	a.mu.RUnlock()

	if userID == "" {
		return nil
	}

	if a.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.FetchTimeout)
		defer cancel()
	}

	start := time.Now()
	previews, err := a.store.ListPreviews(ctx, userID)
	metrics.FetchDuration.WithLabelValues("list_previews").Observe(time.Since(start).Seconds())
	metrics.RefreshesTotal.WithLabelValues("notify", "refresh", metrics.Result(err)).Inc()

	if err != nil {
		a.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to refresh conversations")
		return fmt.Errorf("refresh conversations for %s: %w", userID, err)
	}

	snapshot := make([]storage.ConversationPreview, len(previews))
	copy(snapshot, previews)
	for i := range snapshot {
		if snapshot[i].UnreadCount < 0 {
			snapshot[i].UnreadCount = 0
		}
	}

	a.mu.Lock()
	if a.generation != generation {
		a.mu.Unlock()
		a.logger.Debug().Str("user_id", userID).Msg("Discarding previews fetched for previous user")
		return nil
	}
	a.conversations = snapshot
	a.mu.Unlock()

	badge := a.publish()
	a.logger.Debug().
		Str("user_id", userID).
		Int("conversations", len(snapshot)).
		Int("unread", badge.Total).
		Msg("Conversations refreshed")

	return nil
}

// publish updates gauges and notifies watchers with the current badge.
func (a *Aggregator) publish() Badge {
	a.mu.RLock()
	count := len(a.conversations)
	a.mu.RUnlock()

	badge := a.Badge()
	metrics.UnreadMessages.Set(float64(badge.Total))
	metrics.Conversations.Set(float64(count))
	a.watchers.Notify(badge)
	return badge
}

// UnreadTotal returns the sum of unread counts across all previews.
func (a *Aggregator) UnreadTotal() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return sumUnread(a.conversations)
}

// DisplayBadge returns the unread total formatted for display.
func (a *Aggregator) DisplayBadge() string {
	return FormatBadge(a.UnreadTotal(), a.cfg.BadgeThreshold)
}

// Badge returns the total and its display form from one snapshot.
func (a *Aggregator) Badge() Badge {
	total := a.UnreadTotal()
	return Badge{Total: total, Display: FormatBadge(total, a.cfg.BadgeThreshold)}
}

// Conversations returns a copy of the cached previews in store order.
func (a *Aggregator) Conversations() []storage.ConversationPreview {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.conversations)
}

// Watch registers fn to receive the badge after every change.
func (a *Aggregator) Watch(fn func(Badge)) func() {
	return a.watchers.Add(fn)
}

// Subscribe registers for realtime events of the configured kind. Each event
// starts a refresh on its own goroutine. A previous subscription is
// released first.
func (a *Aggregator) Subscribe(ch realtime.Channel) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.dispose != nil {
		a.dispose()
		a.dispose = nil
	}

	dispose, err := ch.Subscribe(a.cfg.SubscribeKind, a.handleEvent)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", a.cfg.SubscribeKind, err)
	}
	a.dispose = dispose

	a.logger.Debug().Str("kind", string(a.cfg.SubscribeKind)).Msg("Subscribed to realtime events")
	return nil
}

// Unsubscribe releases the realtime subscription, if any.
func (a *Aggregator) Unsubscribe() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dispose != nil {
		a.dispose()
		a.dispose = nil
	}
}

func (a *Aggregator) handleEvent(ev realtime.Event) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.pending.Add(1)
	a.mu.Unlock()

	a.logger.Debug().Str("kind", string(ev.Kind)).Msg("Realtime event, refreshing")

	go func() {
		defer a.pending.Done()
		// Errors are logged by fetch.
		_ = a.Refresh(context.Background())
	}()
}

// Close releases the subscription and waits for event-triggered refreshes.
func (a *Aggregator) Close() {
	a.mu.Lock()
	a.closed = true
	if a.dispose != nil {
		a.dispose()
		a.dispose = nil
	}
	a.mu.Unlock()

	a.pending.Wait()
}

func sumUnread(previews []storage.ConversationPreview) int {
	total := 0
	for _, p := range previews {
		total += p.UnreadCount
	}
	return total
}
