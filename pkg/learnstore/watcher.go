package learnstore

import (
	"context"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ChangeKind describes how a session differs between two documents.
type ChangeKind string

const (
	ChangeCreated     ChangeKind = "created"
	ChangeDeleted     ChangeKind = "deleted"
	ChangeInfo        ChangeKind = "info_changed"
	ChangeSubscribers ChangeKind = "subscribers_changed"
)

// DefaultWatchDebounce coalesces bursts of file events into one reload.
const DefaultWatchDebounce = 250 * time.Millisecond

// Change is one session-level difference detected by the Watcher.
type Change struct {
	SessionID string
	Kind      ChangeKind
	Before    Record
	After     Record
}

// Diff compares two documents and returns the changes ordered by session ID.
// A created or deleted session yields a single change; an existing session may
// yield both an info and a subscribers change.
func Diff(before, after Document) []Change {
	ids := make(map[string]struct{}, len(before)+len(after))
	for id := range before {
		ids[id] = struct{}{}
	}
	for id := range after {
		ids[id] = struct{}{}
	}
	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	slices.Sort(sorted)

	var changes []Change
	for _, id := range sorted {
		prev, hadPrev := before[id]
		next, hasNext := after[id]
		switch {
		case !hadPrev:
			changes = append(changes, Change{SessionID: id, Kind: ChangeCreated, Before: NewRecord(), After: next.Clone()})
		case !hasNext:
			changes = append(changes, Change{SessionID: id, Kind: ChangeDeleted, Before: prev.Clone(), After: NewRecord()})
		default:
			if prev.Info != next.Info {
				changes = append(changes, Change{SessionID: id, Kind: ChangeInfo, Before: prev.Clone(), After: next.Clone()})
			}
			if !slices.Equal(prev.Subscribers, next.Subscribers) {
				changes = append(changes, Change{SessionID: id, Kind: ChangeSubscribers, Before: prev.Clone(), After: next.Clone()})
			}
		}
	}
	return changes
}

// Watcher reloads the store whenever its backing file changes on disk and
// reports session-level changes, e.g. so a bot can notify subscribers when a
// session's info is updated by another process.
type Watcher struct {
	store    *Store
	watcher  *fsnotify.Watcher
	logger   zerolog.Logger
	onChange func([]Change)
	debounce time.Duration
	last     Document

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewWatcher creates a watcher for store. The current document becomes the
// baseline; an unreadable store starts from an empty baseline.
func NewWatcher(store *Store, logger zerolog.Logger, debounce time.Duration, onChange func([]Change)) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	logger = logger.With().Str("component", "store-watcher").Str("path", store.Path()).Logger()

	baseline, err := store.read()
	if err != nil {
		logger.Warn().Err(err).Msg("Initial store load failed, starting from empty baseline")
		baseline = Document{}
	}

	return &Watcher{
		store:    store,
		watcher:  fsw,
		logger:   logger,
		onChange: onChange,
		debounce: debounce,
		last:     baseline,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. The directory is watched rather than the file so
// that atomic renames over the store path are observed.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.store.Path())); err != nil {
		return err
	}
	w.started.Store(true)
	go w.run(ctx)
	w.logger.Info().Dur("debounce", w.debounce).Msg("Store watcher started")
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		err = w.watcher.Close()
	})
	if w.started.Load() {
		<-w.done
	}
	return err
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	target := filepath.Clean(w.store.Path())

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.logger.Debug().Str("op", event.Op.String()).Msg("Store file change detected")
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Store watcher error")

		case <-timer.C:
			w.reload()

		case <-ctx.Done():
			return

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) reload() {
	doc, err := w.store.read()
	if err != nil {
		w.logger.Warn().Err(err).Msg("Store reload failed, keeping previous snapshot")
		return
	}

	changes := Diff(w.last, doc)
	w.last = doc
	if len(changes) == 0 {
		return
	}

	w.logger.Debug().Int("changes", len(changes)).Msg("Store changes detected")
	if w.onChange != nil {
		w.onChange(changes)
	}
}
