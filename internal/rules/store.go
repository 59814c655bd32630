package rules

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the burst of fsnotify events editors emit when
// saving a file.
const watchDebounce = 250 * time.Millisecond

// Store holds the active rules Snapshot and swaps it atomically on reload.
// Reads are lock-free; reload is single-writer. A malformed document is
// rejected and the previous snapshot stays active.
type Store struct {
	path string
	log  *logger.Logger

	current  atomic.Pointer[Snapshot]
	reloadMu sync.Mutex
	version  int
}

// NewStore creates a store for the configured profile path. Call Load before
// serving traffic.
func NewStore(cfg config.RulesConfig, log *logger.Logger) *Store {
	return &Store{
		path: cfg.GetRulesProfilePath(),
		log:  log,
	}
}

// Load reads the profile for the first time. Unlike Reload, a failure here is
// fatal: the process must not start scoring without rules.
func (s *Store) Load() error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()
	return s.swap()
}

// Reload re-reads the profile and swaps it in if valid. On any error the
// previous snapshot remains active and the error is returned for logging.
func (s *Store) Reload() error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	if err := s.swap(); err != nil {
		s.log.Warn("rules reload rejected, keeping previous profile",
			"path", s.path, "error", err)
		return err
	}

	snap := s.current.Load()
	s.log.Info("rules profile reloaded",
		"path", s.path, "version", snap.Version)
	return nil
}

func (s *Store) swap() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read rules profile: %w", err)
	}

	profile, err := parseProfile(data)
	if err != nil {
		return err
	}

	s.version++
	s.current.Store(newSnapshot(profile, s.version, time.Now().UTC()))
	return nil
}

// Snapshot returns the active profile snapshot. Callers capture it once per
// evaluation; in-flight evaluations are unaffected by later reloads.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Watch reloads the profile when its file changes. The parent directory is
// watched rather than the file itself so editors that replace the file with a
// rename (vim, sed -i) keep triggering reloads. Blocks until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("rules watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(s.path)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("rules watcher error", "error", err)

		case <-reload:
			_ = s.Reload()
		}
	}
}
