package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type capturePublisher struct {
	mu      sync.Mutex
	topic   string
	batches [][]AggregatedLogEntry
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func TestLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "info").With(String("instrument", "gold"))
	l.Error("forecast failed", Int("horizon", 30), Float64("return_pct", 12.5), Error(errors.New("boom")))

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if line["instrument"] != "gold" || line["horizon"] != float64(30) || line["return_pct"] != 12.5 || line["error"] != "boom" {
		t.Fatalf("unexpected line %v", line)
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "warn")
	l.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info line written at warn level: %s", buf.String())
	}
}

func TestCollectorAggregatesDuplicates(t *testing.T) {
	pub := &capturePublisher{}
	l := NewWriter(&bytes.Buffer{}, "info")
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 10, Topic: "logs", Publisher: pub})

	for i := 0; i < 3; i++ {
		l.Error("seed unavailable", String("instrument", "gold"))
	}
	l.Error("seed unavailable", String("instrument", "equity"))
	if got := l.collector.Pending(); got != 2 {
		t.Fatalf("expected 2 unique entries, got %d", got)
	}
	l.RemoveCollector()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if pub.topic != "logs" || len(pub.batches) != 1 || len(pub.batches[0]) != 2 {
		t.Fatalf("unexpected publish topic=%s batches=%v", pub.topic, pub.batches)
	}
	total := 0
	for _, e := range pub.batches[0] {
		total += e.Count
	}
	if total != 4 {
		t.Fatalf("expected 4 aggregated lines, got %d", total)
	}
}
