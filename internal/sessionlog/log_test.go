package sessionlog

import (
	"testing"
	"time"

	"github.com/panyeroa1/translateq/internal/turn"
)

func TestAppendOrder(t *testing.T) {
	l := NewLog(nil)

	texts := []string{"first", "second", "third"}
	for _, text := range texts {
		l.Append(turn.Turn{Text: text, Trigger: turn.TriggerExplicit, FinalizedAt: time.Now()})
	}

	entries := l.Entries()
	if len(entries) != len(texts) {
		t.Fatalf("Expected %d entries, got %d", len(texts), len(entries))
	}
	for i, e := range entries {
		if e.Index != i {
			t.Errorf("Entry %d has index %d", i, e.Index)
		}
		if e.Text != texts[i] {
			t.Errorf("Entry %d has text %q, want %q", i, e.Text, texts[i])
		}
	}
}

func TestAppendAgentRole(t *testing.T) {
	l := NewLog(nil)
	l.Append(turn.Turn{Text: "question"})
	l.AppendAgent("answer", "en-US")

	entries := l.Entries()
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Role != RoleUser {
		t.Errorf("Entry 0 role = %q, want %q", entries[0].Role, RoleUser)
	}
	if entries[1].Role != RoleAgent || entries[1].Text != "answer" {
		t.Errorf("Entry 1 = %+v, want agent answer", entries[1])
	}
	if entries[1].Index != 1 {
		t.Errorf("Agent entry index = %d, want 1", entries[1].Index)
	}
}

func TestUpdateLast(t *testing.T) {
	l := NewLog(nil)

	if l.UpdateLast("nothing") {
		t.Error("UpdateLast on empty log must return false")
	}

	l.Append(turn.Turn{Text: "draft"})
	if !l.UpdateLast("revised") {
		t.Fatal("UpdateLast failed on non-empty log")
	}
	last, ok := l.Last()
	if !ok || last.Text != "revised" {
		t.Errorf("Expected last entry %q, got %q", "revised", last.Text)
	}
}

func TestClearRegeneratesSessionID(t *testing.T) {
	l := NewLog(nil)
	old := l.SessionID()
	l.Append(turn.Turn{Text: "hello"})

	fresh := l.Clear()
	if fresh == old {
		t.Error("Clear must generate a new session identifier")
	}
	if fresh != l.SessionID() {
		t.Error("Clear return value must match SessionID")
	}
	if l.Len() != 0 {
		t.Errorf("Expected empty log after Clear, got %d entries", l.Len())
	}
}

func TestEntriesReturnsCopy(t *testing.T) {
	l := NewLog(nil)
	l.Append(turn.Turn{Text: "original"})

	entries := l.Entries()
	entries[0].Text = "mutated"

	last, _ := l.Last()
	if last.Text != "original" {
		t.Error("Mutating the returned slice must not affect the log")
	}
}

func TestStats(t *testing.T) {
	l := NewLog(nil)
	l.Append(turn.Turn{Text: "a"})
	l.Append(turn.Turn{Text: "b"})
	l.UpdateLast("b2")
	l.Clear()

	stats := l.GetStats()
	if stats.Appended != 2 || stats.Updated != 1 || stats.Cleared != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if stats.Entries != 0 {
		t.Errorf("Expected 0 entries after clear, got %d", stats.Entries)
	}
}
