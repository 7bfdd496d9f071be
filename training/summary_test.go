package training

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileSummaryWriter(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFileSummaryWriter(dir)
	if err != nil {
		t.Fatalf("NewFileSummaryWriter() error = %v", err)
	}
	if w.RunID() == "" {
		t.Fatal("writer must carry a run ID")
	}

	if err := w.AddScalar("Train/Loss", 0.5, 0); err != nil {
		t.Fatalf("AddScalar() error = %v", err)
	}
	if err := w.AddScalar("Test/Acc@1", 92.5, 0); err != nil {
		t.Fatalf("AddScalar() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	path := filepath.Join(dir, "events-"+w.RunID()+".jsonl")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("event file missing: %v", err)
	}
	defer f.Close()

	var events []scalarEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e scalarEvent
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("malformed event line: %v", err)
		}
		events = append(events, e)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Tag != "Train/Loss" || events[0].Value != 0.5 {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Tag != "Test/Acc@1" || events[1].Value != 92.5 {
		t.Errorf("second event = %+v", events[1])
	}
	for _, e := range events {
		if e.RunID != w.RunID() {
			t.Errorf("event run ID %q, want %q", e.RunID, w.RunID())
		}
	}
}

func TestSeparateRunsGetSeparateFiles(t *testing.T) {
	dir := t.TempDir()
	a, err := NewFileSummaryWriter(dir)
	if err != nil {
		t.Fatalf("NewFileSummaryWriter() error = %v", err)
	}
	b, err := NewFileSummaryWriter(dir)
	if err != nil {
		t.Fatalf("NewFileSummaryWriter() error = %v", err)
	}
	defer a.Close()
	defer b.Close()

	if a.RunID() == b.RunID() {
		t.Error("two writers must get distinct run IDs")
	}
}

func TestNopSummaryWriter(t *testing.T) {
	var w SummaryWriter = NopSummaryWriter{}
	if err := w.AddScalar("x", 1, 0); err != nil {
		t.Errorf("AddScalar() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestExportGraphDOT(t *testing.T) {
	SetRandomSeed(41)
	model, err := NewMLPClassifier(4, []int{8}, 2)
	if err != nil {
		t.Fatalf("NewMLPClassifier() error = %v", err)
	}

	var buf bytes.Buffer
	if err := ExportGraphDOT(model, &buf); err != nil {
		t.Fatalf("ExportGraphDOT() error = %v", err)
	}
	out := buf.String()

	if !strings.HasPrefix(out, "digraph model {") {
		t.Error("output is not a DOT digraph")
	}
	for _, want := range []string{"input", "output", "Linear [4 8]", "Linear [8 2]", "->"} {
		if !strings.Contains(out, want) {
			t.Errorf("DOT output missing %q", want)
		}
	}
}
