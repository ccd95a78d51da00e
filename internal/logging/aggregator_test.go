package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregator_FlushOnStop(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	agg := NewAggregator(logger, 60)
	agg.Start()

	agg.Record(CompStatus, "idle_tick", slog.String("task", "t1"))
	agg.Record(CompStatus, "idle_tick", slog.String("task", "t1"))
	agg.Record(CompStatus, "idle_tick", slog.String("task", "t1"))
	agg.Record(CompSession, "duplicate_token")
	agg.Stop()

	records := decodeLines(t, buf.Bytes())
	require.Len(t, records, 2)

	// Sorted by component then event: session < status.
	assert.Equal(t, CompSession, records[0]["component"])
	assert.Equal(t, "duplicate_token", records[0]["event"])
	assert.EqualValues(t, 1, records[0]["count"])

	assert.Equal(t, "idle_tick", records[1]["event"])
	assert.EqualValues(t, 3, records[1]["count"])
	assert.EqualValues(t, 1, records[1]["tasks"])
	assert.Equal(t, "t1", records[1]["busiest_task"])
	assert.NotContains(t, records[1], "task")
}

func TestAggregator_SummarizesPerTask(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	agg := NewAggregator(logger, 60)
	agg.Record(CompSession, "duplicate_token", slog.String(TaskAttr, "b"), slog.String("state", "running"))
	agg.Record(CompSession, "duplicate_token", slog.String(TaskAttr, "a"), slog.String("state", "waiting"))
	agg.Record(CompSession, "duplicate_token", slog.String(TaskAttr, "b"), slog.String("state", "waiting"))
	agg.Record(CompSession, "status_tick", slog.String(TaskAttr, "z"))
	agg.Record(CompSession, "status_tick", slog.String(TaskAttr, "y"))
	agg.Stop()

	records := decodeLines(t, buf.Bytes())
	require.Len(t, records, 2)

	dup := records[0]
	assert.Equal(t, "duplicate_token", dup["event"])
	assert.EqualValues(t, 3, dup["count"])
	assert.EqualValues(t, 2, dup["tasks"])
	assert.Equal(t, "b", dup["busiest_task"])
	assert.EqualValues(t, 2, dup["busiest_count"])
	assert.Equal(t, "waiting", dup["state"], "latest non-task fields win")

	tick := records[1]
	assert.Equal(t, "status_tick", tick["event"])
	assert.Equal(t, "y", tick["busiest_task"], "ties go to the smaller id")
	assert.NotContains(t, tick, "state")
}

func TestAggregator_UntaggedEvents(t *testing.T) {
	var buf bytes.Buffer
	agg := NewAggregator(slog.New(slog.NewJSONHandler(&buf, nil)), 60)
	agg.Record(CompWeb, "ws_transition_dropped", slog.String("client", "c1"))
	agg.Stop()

	records := decodeLines(t, buf.Bytes())
	require.Len(t, records, 1)
	assert.Equal(t, "c1", records[0]["client"])
	assert.NotContains(t, records[0], "tasks")
}

func TestAggregator_NilLoggerDrops(t *testing.T) {
	agg := NewAggregator(nil, 1)
	agg.Start()
	agg.Record(CompStatus, "idle_tick")
	agg.Stop()
	agg.Stop() // second stop is a no-op
}

func decodeLines(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(data), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal(line, &rec))
		out = append(out, rec)
	}
	return out
}
