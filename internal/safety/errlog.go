// This file implements the per-agent error-event stream the verification
// window observes. Agents (or their host processes) append error events here;
// the safety manager treats any event newer than a mutation as a regression.
package safety

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrorEvent is one runtime error reported by an agent.
type ErrorEvent struct {
	Timestamp int64  `json:"ts"` // Unix milliseconds
	AgentID   string `json:"agent_id"`
	Message   string `json:"msg"`
}

// ErrorLog is an append-only JSONL stream of error events per agent.
type ErrorLog struct {
	mu  sync.Mutex
	dir string
}

// NewErrorLog creates the error stream area under the data directory.
func NewErrorLog(dataDir string) (*ErrorLog, error) {
	dir := filepath.Join(dataDir, "errors")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create error log dir: %w", err)
	}
	return &ErrorLog{dir: dir}, nil
}

// Record appends one error event for the agent.
func (l *ErrorLog) Record(agentID, message string) error {
	event := ErrorEvent{
		Timestamp: time.Now().UnixMilli(),
		AgentID:   agentID,
		Message:   message,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal error event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path(agentID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open error log: %w", err)
	}
	defer f.Close()

	_, err = f.Write(append(data, '\n'))
	return err
}

// Recent returns up to limit trailing events for the agent, oldest first.
// A missing log yields an empty slice.
func (l *ErrorLog) Recent(agentID string, limit int) ([]ErrorEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path(agentID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open error log: %w", err)
	}
	defer f.Close()

	var events []ErrorEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e ErrorEvent
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue // Skip corrupt lines rather than failing verification.
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

// CountSince returns how many events for the agent landed at or after since.
// Timestamps are millisecond-granular; a tie counts, so an error in the same
// millisecond as the mutation reads as a regression rather than slipping by.
func (l *ErrorLog) CountSince(agentID string, since time.Time, limit int) (int, error) {
	events, err := l.Recent(agentID, limit)
	if err != nil {
		return 0, err
	}
	cutoff := since.UnixMilli()
	count := 0
	for _, e := range events {
		if e.Timestamp >= cutoff {
			count++
		}
	}
	return count, nil
}

// Dir returns the error stream directory (watched during verification).
func (l *ErrorLog) Dir() string { return l.dir }

func (l *ErrorLog) path(agentID string) string {
	return filepath.Join(l.dir, agentID+".jsonl")
}
