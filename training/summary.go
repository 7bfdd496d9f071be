package training

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SummaryWriter records scalar training curves.
type SummaryWriter interface {
	AddScalar(tag string, value float64, step int) error
	Flush() error
	Close() error
}

// NopSummaryWriter discards everything. Used when no log directory is
// configured.
type NopSummaryWriter struct{}

func (NopSummaryWriter) AddScalar(string, float64, int) error { return nil }
func (NopSummaryWriter) Flush() error                         { return nil }
func (NopSummaryWriter) Close() error                         { return nil }

type scalarEvent struct {
	RunID string    `json:"run_id"`
	Tag   string    `json:"tag"`
	Value float64   `json:"value"`
	Step  int       `json:"step"`
	Time  time.Time `json:"time"`
}

// FileSummaryWriter appends scalar events as JSON lines under a log
// directory. Each writer gets a unique run ID so curves from repeated
// runs stay separable.
type FileSummaryWriter struct {
	runID string

	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
}

// NewFileSummaryWriter creates the log directory and opens an event file
// named after a fresh run ID.
func NewFileSummaryWriter(dir string) (*FileSummaryWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %v", err)
	}
	runID := uuid.New().String()
	path := filepath.Join(dir, "events-"+runID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event file: %v", err)
	}
	return &FileSummaryWriter{
		runID: runID,
		file:  f,
		buf:   bufio.NewWriter(f),
	}, nil
}

// RunID returns the identifier stamped on every event.
func (w *FileSummaryWriter) RunID() string { return w.runID }

func (w *FileSummaryWriter) AddScalar(tag string, value float64, step int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	event := scalarEvent{
		RunID: w.runID,
		Tag:   tag,
		Value: value,
		Step:  step,
		Time:  time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %v", err)
	}
	if _, err := w.buf.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %v", err)
	}
	return nil
}

func (w *FileSummaryWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Flush()
}

func (w *FileSummaryWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// ExportGraphDOT writes the layer chain of a model in Graphviz DOT form
// for quick architecture inspection.
func ExportGraphDOT(model Module, out io.Writer) error {
	fmt.Fprintln(out, "digraph model {")
	fmt.Fprintln(out, "  rankdir=LR;")
	fmt.Fprintln(out, "  node [shape=box];")

	if dp, ok := model.(*DataParallel); ok {
		model = dp.module
	}
	var layers []Module
	if seq, ok := model.(*Sequential); ok {
		layers = seq.Layers()
	} else {
		layers = []Module{model}
	}

	fmt.Fprintln(out, `  input [label="input", shape=ellipse];`)
	prev := "input"
	for i, layer := range layers {
		name := fmt.Sprintf("layer%d", i)
		label := fmt.Sprintf("%T", layer)
		if lin, ok := layer.(*Linear); ok {
			params := lin.Parameters()
			label = fmt.Sprintf("Linear %v", params[0].Shape)
		}
		fmt.Fprintf(out, "  %s [label=%q];\n", name, label)
		fmt.Fprintf(out, "  %s -> %s;\n", prev, name)
		prev = name
	}
	fmt.Fprintln(out, `  output [label="logits", shape=ellipse];`)
	fmt.Fprintf(out, "  %s -> output;\n", prev)
	fmt.Fprintln(out, "}")
	return nil
}
