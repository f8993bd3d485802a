// Package safety makes mutations recoverable: it snapshots an agent's source
// artifact before replacing it, verifies the mutation against the agent's
// error stream, and can revert to the most recent snapshot byte-for-byte.
package safety

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"agenttune/internal/logging"
)

// ErrNoBackups is returned by Revert when the agent has no snapshots.
var ErrNoBackups = errors.New("no backups available")

// Manager owns the artifact and backup areas for all agents. Backups are
// append-only, so writes are lock-free; contention exists only on
// read-latest during revert.
type Manager struct {
	artifactsDir string
	backupsDir   string
	errlog       *ErrorLog

	// recentErrorLimit bounds the synchronous error scan during verification.
	recentErrorLimit int
}

// NewManager creates the artifact/backup areas under the data directory.
func NewManager(dataDir string, errlog *ErrorLog, recentErrorLimit int) (*Manager, error) {
	artifactsDir := filepath.Join(dataDir, "artifacts")
	backupsDir := filepath.Join(dataDir, "backups")
	for _, dir := range []string{artifactsDir, backupsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if recentErrorLimit <= 0 {
		recentErrorLimit = 20
	}
	return &Manager{
		artifactsDir:     artifactsDir,
		backupsDir:       backupsDir,
		errlog:           errlog,
		recentErrorLimit: recentErrorLimit,
	}, nil
}

// ReadArtifact returns the agent's current source text.
func (m *Manager) ReadArtifact(agentID string) (string, error) {
	data, err := os.ReadFile(m.artifactPath(agentID))
	if err != nil {
		return "", fmt.Errorf("failed to read artifact for %s: %w", agentID, err)
	}
	return string(data), nil
}

// WriteArtifact sets the agent's source text without snapshotting. Used for
// initial registration; mutations must go through Mutate.
func (m *Manager) WriteArtifact(agentID, source string) error {
	return os.WriteFile(m.artifactPath(agentID), []byte(source), 0644)
}

// Mutate snapshots the current artifact to a timestamped backup, then
// overwrites the live artifact with newSource. The returned time marks the
// mutation instant for the verification window.
func (m *Manager) Mutate(ctx context.Context, agentID, newSource string) (time.Time, error) {
	current, err := m.ReadArtifact(agentID)
	if err != nil {
		return time.Time{}, err
	}

	now := time.Now()
	backupName := fmt.Sprintf("%020d-%s.bak", now.UnixNano(), uuid.NewString()[:8])
	dir := filepath.Join(m.backupsDir, agentID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return time.Time{}, fmt.Errorf("failed to create backup dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, backupName), []byte(current), 0644); err != nil {
		return time.Time{}, fmt.Errorf("failed to write backup: %w", err)
	}
	logging.Safety("backed up artifact for %s as %s", agentID, backupName)

	if err := os.WriteFile(m.artifactPath(agentID), []byte(newSource), 0644); err != nil {
		return time.Time{}, fmt.Errorf("failed to write mutated artifact: %w", err)
	}
	logging.Safety("mutated artifact for %s (%d -> %d bytes)", agentID, len(current), len(newSource))

	return now, nil
}

// Verify watches the agent's error stream for the bounded window after a
// mutation. It returns true if the mutation regressed (post-mutation errors
// observed). The watch ends early on the first regression or when ctx is
// canceled; cancellation counts as healthy.
func (m *Manager) Verify(ctx context.Context, agentID string, since time.Time, window time.Duration) (bool, error) {
	// Arm the watcher before the initial scan: an error appended between the
	// scan and the watch would otherwise produce no event and slip through.
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return false, fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(m.errlog.Dir()); err != nil {
		return false, fmt.Errorf("failed to watch error stream: %w", err)
	}

	// Synchronous scan: errors may already have landed.
	count, err := m.errlog.CountSince(agentID, since, m.recentErrorLimit)
	if err != nil {
		return false, fmt.Errorf("failed to scan error stream: %w", err)
	}
	if count > 0 {
		logging.Safety("verification failed for %s: %d post-mutation errors", agentID, count)
		return true, nil
	}

	deadline := time.NewTimer(window)
	defer deadline.Stop()

	target := agentID + ".jsonl"
	for {
		select {
		case <-ctx.Done():
			return false, nil
		case <-deadline.C:
			logging.SafetyDebug("verification window closed for %s with no regressions", agentID)
			return false, nil
		case event, ok := <-watcher.Events:
			if !ok {
				return false, nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			count, err := m.errlog.CountSince(agentID, since, m.recentErrorLimit)
			if err != nil {
				return false, fmt.Errorf("failed to rescan error stream: %w", err)
			}
			if count > 0 {
				logging.Safety("verification failed for %s: error observed during window", agentID)
				return true, nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return false, nil
			}
			logging.Get(logging.CategorySafety).Warn("watcher error for %s: %v", agentID, err)
		}
	}
}

// Revert restores the most recent backup verbatim. It reports ErrNoBackups
// (rather than crashing) when the agent has no snapshots.
func (m *Manager) Revert(ctx context.Context, agentID string) error {
	dir := filepath.Join(m.backupsDir, agentID)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return fmt.Errorf("revert %s: %w", agentID, ErrNoBackups)
	}
	if err != nil {
		return fmt.Errorf("failed to list backups for %s: %w", agentID, err)
	}

	var backups []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".bak") {
			backups = append(backups, e.Name())
		}
	}
	if len(backups) == 0 {
		return fmt.Errorf("revert %s: %w", agentID, ErrNoBackups)
	}

	// Names embed zero-padded nanosecond timestamps, so lexicographic
	// descending order is newest first.
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))
	newest := backups[0]

	data, err := os.ReadFile(filepath.Join(dir, newest))
	if err != nil {
		return fmt.Errorf("failed to read backup %s: %w", newest, err)
	}
	if err := os.WriteFile(m.artifactPath(agentID), data, 0644); err != nil {
		return fmt.Errorf("failed to restore backup %s: %w", newest, err)
	}

	logging.Safety("reverted %s to backup %s (%d bytes)", agentID, newest, len(data))
	return nil
}

// BackupCount returns how many snapshots exist for the agent.
func (m *Manager) BackupCount(agentID string) int {
	entries, err := os.ReadDir(filepath.Join(m.backupsDir, agentID))
	if err != nil {
		return 0
	}
	count := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".bak") {
			count++
		}
	}
	return count
}

func (m *Manager) artifactPath(agentID string) string {
	return filepath.Join(m.artifactsDir, agentID+".txt")
}
