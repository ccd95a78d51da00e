package logging

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// TaskAttr is the attribute key sessions use to tag aggregated events. The
// aggregator counts it per task instead of keeping the last value.
const TaskAttr = "task"

type aggregateKey struct {
	component string
	event     string
}

type aggregateEntry struct {
	count  int64
	fields []slog.Attr
	tasks  map[string]int64
}

// Aggregator batches high-frequency session events (poll ticks, suppressed
// duplicate tokens, dropped hub messages) and emits one event_summary record
// per event every interval. Events tagged with TaskAttr are summarized as the
// number of distinct tasks plus the noisiest one.
type Aggregator struct {
	logger   *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	entries map[aggregateKey]*aggregateEntry

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewAggregator creates an aggregator that flushes every intervalSecs seconds.
// A nil logger drops everything.
func NewAggregator(logger *slog.Logger, intervalSecs int) *Aggregator {
	if intervalSecs <= 0 {
		intervalSecs = 30
	}
	return &Aggregator{
		logger:   logger,
		interval: time.Duration(intervalSecs) * time.Second,
		entries:  make(map[aggregateKey]*aggregateEntry),
		done:     make(chan struct{}),
	}
}

// Start begins the background flush goroutine.
func (a *Aggregator) Start() {
	a.wg.Add(1)
	go a.loop()
}

// Stop flushes remaining entries and waits for the flush goroutine.
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() {
		close(a.done)
	})
	a.wg.Wait()
	a.flush()
}

// Record counts one occurrence of component/event. A TaskAttr field is
// tallied per task; the remaining fields of the latest non-empty call win.
func (a *Aggregator) Record(component, event string, fields ...slog.Attr) {
	task, rest := splitTask(fields)

	a.mu.Lock()
	defer a.mu.Unlock()

	key := aggregateKey{component: component, event: event}
	entry, ok := a.entries[key]
	if !ok {
		entry = &aggregateEntry{}
		a.entries[key] = entry
	}
	entry.count++
	if task != "" {
		if entry.tasks == nil {
			entry.tasks = make(map[string]int64)
		}
		entry.tasks[task]++
	}
	if len(rest) > 0 {
		entry.fields = rest
	}
}

func splitTask(fields []slog.Attr) (string, []slog.Attr) {
	for i, f := range fields {
		if f.Key != TaskAttr {
			continue
		}
		rest := make([]slog.Attr, 0, len(fields)-1)
		rest = append(rest, fields[:i]...)
		rest = append(rest, fields[i+1:]...)
		return f.Value.String(), rest
	}
	return "", fields
}

// busiest returns the task with the highest count, ties going to the
// lexically smaller id.
func busiest(tasks map[string]int64) (string, int64) {
	var id string
	var n int64
	for t, c := range tasks {
		if c > n || (c == n && t < id) {
			id, n = t, c
		}
	}
	return id, n
}

func (a *Aggregator) loop() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.flush()
		case <-a.done:
			return
		}
	}
}

func (a *Aggregator) flush() {
	a.mu.Lock()
	if len(a.entries) == 0 {
		a.mu.Unlock()
		return
	}
	entries := a.entries
	a.entries = make(map[aggregateKey]*aggregateEntry)
	a.mu.Unlock()

	if a.logger == nil {
		return
	}

	keys := make([]aggregateKey, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].component != keys[j].component {
			return keys[i].component < keys[j].component
		}
		return keys[i].event < keys[j].event
	})

	for _, key := range keys {
		entry := entries[key]
		args := []any{
			slog.String("component", key.component),
			slog.String("event", key.event),
			slog.Int64("count", entry.count),
			slog.Int("window_seconds", int(a.interval.Seconds())),
		}
		if len(entry.tasks) > 0 {
			id, n := busiest(entry.tasks)
			args = append(args,
				slog.Int("tasks", len(entry.tasks)),
				slog.String("busiest_task", id),
				slog.Int64("busiest_count", n))
		}
		for _, f := range entry.fields {
			args = append(args, f)
		}
		a.logger.Info("event_summary", args...)
	}
}
