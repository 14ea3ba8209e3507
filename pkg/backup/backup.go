// Package backup takes scheduled snapshots of the session store.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/learnstate/internal/observability"
	"github.com/harun/learnstate/pkg/learnstore"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	filePrefix = "store-"
	fileSuffix = ".json"
	timeLayout = "20060102-150405.000"

	maxNameAttempts = 1000
)

// Source provides the document to snapshot.
type Source interface {
	LoadWithContext(ctx context.Context) (learnstore.Document, error)
}

// Config holds snapshot settings.
type Config struct {
	Schedule string // standard 5-field cron expression
	Dir      string
	Keep     int
}

// Scheduler writes timestamped snapshots on a cron schedule and prunes old ones.
type Scheduler struct {
	source Source
	cfg    Config
	logger zerolog.Logger
	cron   *cron.Cron
	now    func() time.Time

	mu      sync.Mutex
	running bool
}

// New validates cfg and prepares a scheduler. Call Start to begin.
func New(source Source, cfg Config, logger zerolog.Logger) (*Scheduler, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("backup dir cannot be empty")
	}
	if cfg.Keep < 1 {
		return nil, fmt.Errorf("backup keep must be at least 1")
	}
	schedule, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid backup schedule %q: %w", cfg.Schedule, err)
	}
	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	s := &Scheduler{
		source: source,
		cfg:    cfg,
		logger: logger.With().Str("component", "backup").Str("dir", cfg.Dir).Logger(),
		cron:   cron.New(),
		now:    time.Now,
	}

	s.cron.Schedule(schedule, cron.FuncJob(func() {
		if _, err := s.RunOnce(context.Background()); err != nil {
			s.logger.Error().Err(err).Msg("Scheduled backup failed")
		}
	}))

	return s, nil
}

// Start starts the cron scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("backup scheduler is already running")
	}
	s.cron.Start()
	s.running = true

	s.logger.Info().Str("schedule", s.cfg.Schedule).Int("keep", s.cfg.Keep).Msg("Backup scheduler started")
	return nil
}

// Stop stops the scheduler and waits for a running snapshot to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return fmt.Errorf("backup scheduler is not running")
	}
	<-s.cron.Stop().Done()
	s.running = false

	s.logger.Info().Msg("Backup scheduler stopped")
	return nil
}

// RunOnce writes one snapshot and prunes old ones. It returns the snapshot path.
func (s *Scheduler) RunOnce(ctx context.Context) (path string, err error) {
	defer func() {
		observability.RecordBackup(err == nil)
	}()

	doc, err := s.source.LoadWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load store: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	path, err = s.writeSnapshot(append(data, '\n'))
	if err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}

	removed, err := s.prune()
	if err != nil {
		return path, fmt.Errorf("failed to prune snapshots: %w", err)
	}

	s.logger.Info().
		Str("path", path).
		Int("sessions", len(doc)).
		Int("pruned", removed).
		Msg("Store snapshot written")

	return path, nil
}

// writeSnapshot creates a new snapshot file, never replacing an existing one.
// A name collision moves the timestamp forward a millisecond so names stay
// unique and keep sorting chronologically.
func (s *Scheduler) writeSnapshot(data []byte) (string, error) {
	ts := s.now().UTC()
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		path := filepath.Join(s.cfg.Dir, filePrefix+ts.Format(timeLayout)+fileSuffix)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
		if errors.Is(err, fs.ErrExist) {
			ts = ts.Add(time.Millisecond)
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			os.Remove(path)
			return "", err
		}
		if err := f.Close(); err != nil {
			os.Remove(path)
			return "", err
		}
		return path, nil
	}
	return "", fmt.Errorf("no free snapshot name after %d attempts", maxNameAttempts)
}

// Snapshots returns existing snapshot paths, oldest first.
func (s *Scheduler) Snapshots() ([]string, error) {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		paths = append(paths, filepath.Join(s.cfg.Dir, name))
	}
	// Timestamps in the names sort chronologically.
	sort.Strings(paths)
	return paths, nil
}

func (s *Scheduler) prune() (int, error) {
	paths, err := s.Snapshots()
	if err != nil {
		return 0, err
	}
	if len(paths) <= s.cfg.Keep {
		return 0, nil
	}

	excess := paths[:len(paths)-s.cfg.Keep]
	for _, p := range excess {
		if err := os.Remove(p); err != nil {
			return 0, err
		}
	}
	return len(excess), nil
}
