package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"testing"
)

func TestAuditLog_AppendAndReadBack(t *testing.T) {
	dir := t.TempDir()

	audit, err := NewAuditLog(dir)
	if err != nil {
		t.Fatalf("NewAuditLog: %v", err)
	}

	events := []AuditEvent{
		{EventType: AuditFeedbackReceived, AgentID: "agent-a", Score: 2.0, Success: true},
		{EventType: AuditMutationApplied, AgentID: "agent-a", Success: true},
		{EventType: AuditMutationReverted, AgentID: "agent-a", Error: "post-mutation errors", Success: false},
	}
	for _, e := range events {
		if err := audit.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	f, err := os.Open(audit.Path())
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	defer f.Close()

	var got []AuditEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e AuditEvent
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("bad JSONL line: %v", err)
		}
		got = append(got, e)
	}

	if len(got) != len(events) {
		t.Fatalf("read %d events, want %d", len(got), len(events))
	}
	for i := range events {
		if got[i].EventType != events[i].EventType {
			t.Errorf("event %d type = %s, want %s", i, got[i].EventType, events[i].EventType)
		}
		if got[i].Timestamp == 0 {
			t.Errorf("event %d missing timestamp", i)
		}
	}
}
